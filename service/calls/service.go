// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package calls

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/callsignal/service/random"
	"github.com/mattermost/callsignal/service/store"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/robfig/cron/v3"
)

const recordPrefix = "call:"

var (
	ErrNotFound          = errors.New("call not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRequest    = errors.New("invalid request")
)

type Metrics interface {
	IncCallRecords(status string)
	AddCallsPruned(n int)
}

// Service keeps the bookkeeping records of calls. Every status change is
// applied atomically on the underlying store.
type Service struct {
	cfg     Config
	store   store.Store
	log     mlog.LoggerIFace
	metrics Metrics
	now     func() time.Time

	cron *cron.Cron
	mut  sync.Mutex
}

func NewService(cfg Config, st store.Store, log mlog.LoggerIFace, metrics Metrics) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("invalid store")
	}
	if log == nil {
		return nil, fmt.Errorf("invalid logger")
	}
	if metrics == nil {
		return nil, fmt.Errorf("invalid metrics")
	}

	return &Service{
		cfg:     cfg,
		store:   st,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Create stores a new record in the initiated status and returns it.
func (s *Service) Create(callerID, calleeID string, mode Mode) (Record, error) {
	if callerID == "" || calleeID == "" {
		return Record{}, fmt.Errorf("%w: caller and callee should not be empty", ErrInvalidRequest)
	}
	if callerID == calleeID {
		return Record{}, fmt.Errorf("%w: cannot call self", ErrInvalidRequest)
	}
	if !mode.IsValid() {
		return Record{}, fmt.Errorf("%w: mode %q is not valid", ErrInvalidRequest, mode)
	}

	rec := Record{
		ID:        random.NewID(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		Mode:      mode,
		Status:    StatusInitiated,
		CreatedAt: s.now().UnixMilli(),
	}

	data, err := rec.marshal()
	if err != nil {
		return Record{}, err
	}

	if err := s.store.Put(recordPrefix+rec.ID, data); err != nil {
		return Record{}, fmt.Errorf("failed to store record: %w", err)
	}

	s.metrics.IncCallRecords(string(rec.Status))

	return rec, nil
}

func (s *Service) Get(id, by string) (Record, error) {
	data, err := s.store.Get(recordPrefix + id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrEmptyKey) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, fmt.Errorf("failed to get record: %w", err)
	}

	rec, err := unmarshalRecord(data)
	if err != nil {
		return Record{}, err
	}

	if !rec.isParticipant(by) {
		return Record{}, ErrForbidden
	}

	return rec, nil
}

// Answer moves the call from initiated to answered. Only the callee can
// answer.
func (s *Service) Answer(id, by string) (Record, error) {
	return s.transition(id, func(rec *Record) error {
		if rec.CalleeID != by {
			return ErrForbidden
		}
		switch rec.Status {
		case StatusInitiated:
			rec.Status = StatusAnswered
			rec.AnsweredAt = s.now().UnixMilli()
		case StatusAnswered:
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusAnswered)
		}
		return nil
	})
}

// Reject moves the call from initiated to rejected. Only the callee can
// reject.
func (s *Service) Reject(id, by string) (Record, error) {
	return s.transition(id, func(rec *Record) error {
		if rec.CalleeID != by {
			return ErrForbidden
		}
		switch rec.Status {
		case StatusInitiated:
			rec.Status = StatusRejected
			rec.EndedAt = s.now().UnixMilli()
		case StatusRejected:
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusRejected)
		}
		return nil
	})
}

// End closes the call on behalf of either party. A call that was never
// answered is recorded as missed. Ending an already closed call is a no-op.
func (s *Service) End(id, by string, durationSeconds int64) (Record, error) {
	if durationSeconds < 0 {
		return Record{}, fmt.Errorf("%w: duration should not be negative", ErrInvalidRequest)
	}

	return s.transition(id, func(rec *Record) error {
		if !rec.isParticipant(by) {
			return ErrForbidden
		}
		switch rec.Status {
		case StatusInitiated:
			rec.Status = StatusMissed
			rec.EndedAt = s.now().UnixMilli()
		case StatusAnswered:
			rec.Status = StatusEnded
			rec.EndedAt = s.now().UnixMilli()
			rec.DurationSeconds = durationSeconds
		}
		return nil
	})
}

func (s *Service) transition(id string, fn func(rec *Record) error) (Record, error) {
	var rec Record
	var changed bool
	_, err := s.store.Update(recordPrefix+id, func(current string) (string, error) {
		var err error
		rec, err = unmarshalRecord(current)
		if err != nil {
			return "", err
		}
		prev := rec.Status
		if err := fn(&rec); err != nil {
			return "", err
		}
		changed = rec.Status != prev
		return rec.marshal()
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrEmptyKey) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}

	if changed {
		s.metrics.IncCallRecords(string(rec.Status))
	}

	return rec, nil
}

// History returns the most recent records the given client took part in,
// newest first. A non positive limit applies the configured one.
func (s *Service) History(by string, limit int) ([]Record, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}

	var records []Record
	err := s.store.Scan(recordPrefix, func(_, value string) error {
		rec, err := unmarshalRecord(value)
		if err != nil {
			s.log.Warn("skipping malformed call record", mlog.Err(err))
			return nil
		}
		if rec.isParticipant(by) {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}

	slices.SortFunc(records, func(a, b Record) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// Prune deletes every record created before the given time and returns
// how many were removed.
func (s *Service) Prune(before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	var keys []string
	err := s.store.Scan(recordPrefix, func(key, value string) error {
		rec, err := unmarshalRecord(value)
		if err != nil || rec.CreatedAt < cutoff {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan records: %w", err)
	}

	var pruned int
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			s.metrics.AddCallsPruned(pruned)
			return pruned, fmt.Errorf("failed to delete record: %w", err)
		}
		pruned++
	}

	s.metrics.AddCallsPruned(pruned)

	return pruned, nil
}
