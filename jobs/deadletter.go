package jobs

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DeadLetter describes a job that failed terminally
type DeadLetter struct {
	ID        string
	Queue     QueueName
	Kind      string
	Attempts  int
	LastError string
	Payload   Payload
	FailedAt  time.Time
}

// DeadLetterSink records terminal job failures
type DeadLetterSink interface {
	Record(ctx context.Context, letter DeadLetter) error
}

// DeadLetterRecord is the persisted form of a DeadLetter. The payload is
// kept as a CBOR snapshot.
type DeadLetterRecord struct {
	bun.BaseModel `bun:"table:job_dead_letters,alias:jdl"`
	ID            string    `bun:"id,pk" json:"id"`
	Queue         string    `bun:"queue,notnull" json:"queue"`
	Kind          string    `bun:"kind,notnull" json:"kind"`
	Attempts      int       `bun:"attempts" json:"attempts"`
	LastError     string    `bun:"last_error,notnull" json:"last_error"`
	Payload       []byte    `bun:"payload" json:"-"`
	FailedAt      time.Time `bun:"failed_at,notnull" json:"failed_at"`
}

// DecodePayload decodes the payload snapshot into v
func (r *DeadLetterRecord) DecodePayload(v any) error {
	return cbor.Unmarshal(r.Payload, v)
}

// BunDeadLetterStore persists dead letters through bun
type BunDeadLetterStore struct {
	db bun.IDB
}

func NewBunDeadLetterStore(db bun.IDB) *BunDeadLetterStore {
	return &BunDeadLetterStore{db: db}
}

func (s *BunDeadLetterStore) Record(ctx context.Context, letter DeadLetter) error {
	payload, err := cbor.Marshal(letter.Payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode dead letter payload")
	}

	record := &DeadLetterRecord{
		ID:        letter.ID,
		Queue:     string(letter.Queue),
		Kind:      letter.Kind,
		Attempts:  letter.Attempts,
		LastError: letter.LastError,
		Payload:   payload,
		FailedAt:  letter.FailedAt.UTC(),
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store dead letter")
	}
	return nil
}

// List returns dead letters for queue, newest first. An empty queue name
// lists all queues.
func (s *BunDeadLetterStore) List(ctx context.Context, queue QueueName, limit int) ([]*DeadLetterRecord, error) {
	records := []*DeadLetterRecord{}
	q := s.db.NewSelect().Model(&records).Order("failed_at DESC")
	if queue != "" {
		q = q.Where("?TableAlias.queue = ?", string(queue))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list dead letters")
	}
	return records, nil
}

var _ DeadLetterSink = (*BunDeadLetterStore)(nil)
