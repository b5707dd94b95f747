package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
	"threatprint/internal/feed"
	"threatprint/pkg/logger"
)

// JobState is the per-ingest-job lifecycle state
type JobState string

const (
	JobIdle     JobState = "idle"
	JobRunning  JobState = "running"
	JobDraining JobState = "draining"
	JobDone     JobState = "done"
	JobFailed   JobState = "failed"
)

// errIngestStopped unblocks writers after the parser quits reading
var errIngestStopped = errors.New("ingest stopped")

// Job is a handle on a streaming ingest. Bytes are fed incrementally and
// flow through parse, normalize and commit stages; EndIngest closes the
// stream and waits for the pipeline to drain.
type Job struct {
	ID     uuid.UUID
	Source string
	Format feed.Format

	engine *Engine
	logger *logger.Logger

	pw     *io.PipeWriter
	cancel context.CancelFunc

	mu    sync.Mutex
	state JobState

	started   time.Time
	cancelled atomic.Bool
	done      chan struct{}
	report    models.IngestReport
	err       error
}

// State returns the job's current lifecycle state
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// transition advances the state only from the expected predecessor
func (j *Job) transition(from, to JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != from {
		return false
	}
	j.state = to
	return true
}

// workItem is one normalized record ready for commit
type workItem struct {
	cand   *models.Indicator
	vector models.FeatureVector
	fp     models.Fingerprint
}

// rawBatch is a sequence-numbered slice of parsed records
type rawBatch struct {
	seq     uint64
	records []feed.Record
}

// delta is a processed batch ready for serialized commit
type delta struct {
	seq     uint64
	items   []workItem
	dropped int64 // records the normalizer rejected
}

// BeginIngest starts a streaming ingest job for one source feed. The
// returned handle accepts byte chunks until EndIngest or Cancel.
func (e *Engine) BeginIngest(source string, format feed.Format) (*Job, error) {
	pr, pw := io.Pipe()

	parser, err := feed.NewParser(format, pr)
	if err != nil {
		pw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:      uuid.New(),
		Source:  source,
		Format:  format,
		engine:  e,
		pw:      pw,
		cancel:  cancel,
		state:   JobIdle,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	job.logger = e.logger.WithSource(source).WithJobID(job.ID.String())

	e.jobsMu.Lock()
	e.jobs[job.ID] = job
	e.jobsMu.Unlock()

	go job.run(ctx, parser, pr)

	job.logger.Info().Str("format", string(format)).Msg("ingest job started")
	return job, nil
}

// FeedBytes streams a chunk into the job's parser. It blocks while the
// pipeline applies backpressure and fails once the job has finished.
func (e *Engine) FeedBytes(job *Job, chunk []byte) error {
	switch job.State() {
	case JobDone, JobFailed, JobDraining:
		return ErrJobFinished
	}
	job.transition(JobIdle, JobRunning)

	_, err := job.pw.Write(chunk)
	return err
}

// EndIngest closes the job's input and waits for the pipeline to drain,
// returning the final report. The ctx bounds only the wait, not the job.
func (e *Engine) EndIngest(ctx context.Context, job *Job) (models.IngestReport, error) {
	if job.transition(JobIdle, JobDraining) || job.transition(JobRunning, JobDraining) {
		job.pw.Close()
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return models.IngestReport{}, ctx.Err()
	}

	e.jobsMu.Lock()
	delete(e.jobs, job.ID)
	e.jobsMu.Unlock()

	return job.report, job.err
}

// Cancel signals the job to stop. The parser quits emitting, in-flight
// batches run to completion and commit, and the job drains into Done
// with the report's Partial flag set.
func (e *Engine) Cancel(job *Job) {
	job.cancelled.Store(true)
	job.cancel()
	// close the input so a parser blocked on a read drains immediately
	if job.transition(JobIdle, JobDraining) || job.transition(JobRunning, JobDraining) {
		job.pw.Close()
	}
	job.logger.Info().Msg("ingest job cancelled")
}

// Job returns the live handle for an id, if the job is still running
func (e *Engine) Job(id uuid.UUID) (*Job, bool) {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	j, ok := e.jobs[id]
	return j, ok
}

// run drives the three pipeline stages: a single parser goroutine, a
// CPU-bound worker pool, and the serialized committer. The committer
// reorders deltas by batch sequence so commit order matches parse order.
func (j *Job) run(ctx context.Context, parser feed.Parser, pr *io.PipeReader) {
	e := j.engine

	batches := make(chan rawBatch, e.cfg.Workers)
	deltas := make(chan delta, e.cfg.Workers)

	var (
		parsed       atomic.Int64
		droppedParse atomic.Int64
		fatal        error
	)

	// parser stage. On a structural payload failure the current
	// uncommitted buffer is discarded; batches already handed off still
	// commit. The read side is closed on exit so blocked writers fail
	// fast instead of hanging.
	go func() {
		defer close(batches)
		defer func() {
			if fatal != nil {
				pr.CloseWithError(fatal)
			} else {
				pr.CloseWithError(errIngestStopped)
			}
		}()
		var (
			seq uint64
			buf []feed.Record
		)
		flush := func() {
			if len(buf) == 0 {
				return
			}
			batches <- rawBatch{seq: seq, records: buf}
			seq++
			buf = nil
		}
		for {
			if ctx.Err() != nil {
				flush()
				return
			}
			rec, err := parser.Next()
			switch {
			case err == nil:
				parsed.Add(1)
				buf = append(buf, rec)
				if len(buf) >= e.cfg.BatchSize {
					flush()
				}
			case errors.Is(err, io.EOF):
				flush()
				return
			case errors.Is(err, feed.ErrBadRecord):
				parsed.Add(1)
				droppedParse.Add(1)
			default:
				fatal = err
				return
			}
		}
	}()

	// CPU-bound worker pool
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				d := delta{seq: batch.seq, items: make([]workItem, 0, len(batch.records))}
				for _, rec := range batch.records {
					cand, err := e.normalizer.Normalize(rec)
					if err != nil {
						d.dropped++
						continue
					}
					d.items = append(d.items, workItem{
						cand:   cand,
						vector: e.extractor.Vector(cand),
						fp:     e.fingerprinter.Fingerprint(cand),
					})
				}
				deltas <- d
			}
		}()
	}
	go func() {
		wg.Wait()
		close(deltas)
	}()

	// committer: single goroutine, batches applied in sequence order
	var (
		report  models.IngestReport
		pending = make(map[uint64]delta)
		nextSeq uint64
	)
	commit := func(d delta) {
		report.RecordsDropped += d.dropped
		created, updated, suppressed, capDropped, events := e.commitBatch(d)
		report.IndicatorsCreated += created
		report.IndicatorsUpdated += updated
		report.DuplicatesSuppressed += suppressed
		report.RecordsDropped += capDropped
		for _, ev := range events.created {
			e.events.IndicatorCreated(ev)
		}
		for _, ev := range events.updated {
			e.events.IndicatorUpdated(ev)
		}
	}
	for d := range deltas {
		pending[d.seq] = d
		for {
			next, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			commit(next)
		}
	}
	for {
		next, ok := pending[nextSeq]
		if !ok {
			break
		}
		delete(pending, nextSeq)
		nextSeq++
		commit(next)
	}

	report.Source = j.Source
	report.RecordsParsed = parsed.Load()
	report.RecordsDropped += droppedParse.Load()
	report.ElapsedMS = time.Since(j.started).Milliseconds()
	report.Partial = j.cancelled.Load()

	e.recordSourceTotals(j.Source, report)

	j.report = report
	if fatal != nil && !j.cancelled.Load() {
		j.err = fatal
		j.setState(JobFailed)
		j.logger.Error().Err(fatal).Msg("ingest job failed")
	} else {
		j.setState(JobDone)
		j.logger.Info().
			Int64("parsed", report.RecordsParsed).
			Int64("created", report.IndicatorsCreated).
			Int64("updated", report.IndicatorsUpdated).
			Int64("suppressed", report.DuplicatesSuppressed).
			Bool("partial", report.Partial).
			Msg("ingest job finished")
	}

	e.events.IngestCompleted(j.report)
	close(j.done)
}

// commitEvents collects the post-commit notifications for one batch
type commitEvents struct {
	created []*models.Indicator
	updated []*models.Indicator
}

// commitBatch applies one processed batch under the exclusive lease. The
// whole batch becomes visible to readers atomically.
func (e *Engine) commitBatch(d delta) (created, updated, suppressed, dropped int64, events commitEvents) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range d.items {
		key := item.cand.Key()
		if id, ok := e.byKey[key]; ok {
			ind := e.indicators[id]
			suppressed++

			before := ind.LastSeen
			changed := ind.Merge(item.cand)
			advanced := ind.LastSeen.After(before)

			if changed {
				updated++
				newFP := e.fingerprinter.Fingerprint(ind)
				if oldFP := e.fingerprints[id]; newFP != oldFP {
					e.fpIndex.Remove(oldFP, id)
					e.fpIndex.Insert(newFP, id)
					e.fingerprints[id] = newFP
				}
				events.updated = append(events.updated, ind.Clone())
			}
			if changed || advanced {
				e.simIndex.Upsert(models.IndexedVector{
					ID:          id,
					Vector:      e.extractor.Vector(ind),
					Fingerprint: e.fingerprints[id],
					Timestamp:   ind.LastSeen,
				})
			}
			continue
		}

		if e.cfg.MaxIndicators > 0 && len(e.indicators) >= e.cfg.MaxIndicators {
			dropped++
			continue
		}

		ind := item.cand
		ind.ID = uuid.New()
		e.indicators[ind.ID] = ind
		e.byKey[key] = ind.ID
		e.fingerprints[ind.ID] = item.fp
		e.fpIndex.Insert(item.fp, ind.ID)
		e.simIndex.Upsert(models.IndexedVector{
			ID:          ind.ID,
			Vector:      item.vector,
			Fingerprint: item.fp,
			Timestamp:   ind.LastSeen,
		})
		created++
		events.created = append(events.created, ind.Clone())
	}

	e.lastCommit = time.Now().UTC()
	return created, updated, suppressed, dropped, events
}

// recordSourceTotals folds a finished job's counters into the per-source
// running totals
func (e *Engine) recordSourceTotals(source string, report models.IngestReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counters := e.sources[source]
	if counters == nil {
		counters = &models.SourceCounters{}
		e.sources[source] = counters
	}
	counters.RecordsParsed += report.RecordsParsed
	counters.RecordsDropped += report.RecordsDropped
	counters.DuplicatesSuppressed += report.DuplicatesSuppressed
}
