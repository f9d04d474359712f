package sync

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const jobNamespace = "sync-job"

type Storage struct {
	db storage.ServiceStorage
}

func NewSyncStorage(db storage.ServiceStorage) (*Storage, error) {
	if db == nil {
		return nil, errors.New("db reference is nil")
	}
	return &Storage{db: db}, nil
}

// PutJob creates or overwrites a job by id.
func (ss *Storage) PutJob(ctx context.Context, job Job) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling sync job")
	}
	return storage.WrapError("storing sync job", ss.db.Write(ctx, jobNamespace, job.ID, jobBytes))
}

func (ss *Storage) GetJob(ctx context.Context, id string) (*Job, error) {
	jobBytes, err := ss.db.Read(ctx, jobNamespace, id)
	if err != nil {
		return nil, storage.WrapError("reading sync job", err)
	}
	if len(jobBytes) == 0 {
		return nil, nil
	}
	var job Job
	if err = json.Unmarshal(jobBytes, &job); err != nil {
		return nil, util.LoggingErrorMsgf(err, "unmarshalling sync job with key: %s", id)
	}
	return &job, nil
}

func (ss *Storage) DeleteJob(ctx context.Context, id string) error {
	return storage.WrapError("deleting sync job", ss.db.Delete(ctx, jobNamespace, id))
}

// DueJobs returns up to limit jobs whose NextAt has passed, oldest due first.
// Jobs with a future NextAt stay invisible to the drain loop.
func (ss *Storage) DueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	gotJobs, err := ss.db.ReadAll(ctx, jobNamespace)
	if err != nil {
		return nil, storage.WrapError("reading sync jobs", err)
	}

	due := make([]Job, 0, len(gotJobs))
	for key, jobBytes := range gotJobs {
		var job Job
		if err = json.Unmarshal(jobBytes, &job); err != nil {
			logrus.WithError(err).Warnf("unmarshalling sync job with key: %s", key)
			continue
		}
		if !job.NextAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAt.Before(due[j].NextAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (ss *Storage) CountJobs(ctx context.Context) (int, error) {
	gotJobs, err := ss.db.ReadAll(ctx, jobNamespace)
	if err != nil {
		return 0, storage.WrapError("reading sync jobs", err)
	}
	return len(gotJobs), nil
}
