package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/loglane/backend/internal/analyzer"
	"github.com/loglane/backend/internal/broadcast"
	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/detect"
	"github.com/loglane/backend/internal/faults"
	"github.com/loglane/backend/internal/metrics"
	"github.com/loglane/backend/internal/notify"
	"github.com/loglane/backend/internal/parser"
	"github.com/loglane/backend/internal/queue"
	"github.com/loglane/backend/internal/store"
	"github.com/loglane/backend/internal/validate"
)

// unparsedPreview bounds the message synthesized for unparseable content.
const unparsedPreview = 200

// Orchestrator composes the pipeline stages for one queue. Stages are
// injected so tests can swap any of them.
type Orchestrator struct {
	clock     core.Clock
	validator *validate.Validator
	sanitizer *validate.Sanitizer
	static    *parser.StaticParser
	detector  *detect.Detector
	patterns  *detect.PatternCache
	storage   store.Store
	scorer    analyzer.Analyzer
	notifier  *notify.Engine
	caster    *broadcast.Broadcaster
	handler   *faults.Handler
	queue     *queue.Queue
	collector *metrics.Collector
	prom      *metrics.PromMetrics

	mu        sync.RWMutex
	callbacks []Callback

	logger *log.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Clock     core.Clock
	Validator *validate.Validator
	Sanitizer *validate.Sanitizer
	Static    *parser.StaticParser
	Detector  *detect.Detector
	Patterns  *detect.PatternCache
	Store     store.Store
	Analyzer  analyzer.Analyzer
	Notifier  *notify.Engine
	Caster    *broadcast.Broadcaster
	Faults    *faults.Handler
	Queue     *queue.Queue
	Collector *metrics.Collector
	Prom      *metrics.PromMetrics // optional
}

// New wires an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		clock:     d.Clock,
		validator: d.Validator,
		sanitizer: d.Sanitizer,
		static:    d.Static,
		detector:  d.Detector,
		patterns:  d.Patterns,
		storage:   d.Store,
		scorer:    d.Analyzer,
		notifier:  d.Notifier,
		caster:    d.Caster,
		handler:   d.Faults,
		queue:     d.Queue,
		collector: d.Collector,
		prom:      d.Prom,
		logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// AddCallback registers an observer for finished entries.
func (o *Orchestrator) AddCallback(cb Callback) {
	o.mu.Lock()
	o.callbacks = append(o.callbacks, cb)
	o.mu.Unlock()
}

// ProcessBatch is the queue's batch processor: entries arrive sorted by
// priority and are processed sequentially within the worker.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batch []*core.LogEntry) {
	for _, entry := range batch {
		o.ProcessEntry(ctx, entry)
	}
}

// ProcessEntry runs the full pipeline for one PROCESSING entry. Panics are
// contained: they classify as INTERNAL faults and fail the entry.
func (o *Orchestrator) ProcessEntry(ctx context.Context, entry *core.LogEntry) (result *ProcessingResult) {
	started := o.clock.Now()
	result = &ProcessingResult{EntryID: entry.EntryID, Metadata: map[string]interface{}{}}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.handler.Report(faults.KindInternal, entry.EntryID, entry.SourceName, err)
			_ = entry.MarkFailed(o.clock, err.Error())
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
		}
		o.finish(entry, started, result)
	}()

	o.caster.BroadcastStatus(entry.EntryID, "PROCESSING", entry.Priority.String())

	// Validation and repair.
	verdict := o.validator.Validate(entry.Content, entry.SourcePath, entry.SourceName)
	result.ValidationResult = verdict
	o.collector.RecordVerdict(string(verdict))
	if o.prom != nil {
		o.prom.ValidationVerdicts.WithLabelValues(string(verdict)).Inc()
	}
	entry.SetMeta(core.MetaValidationResult, core.StringValue(string(verdict)))

	if verdict == validate.VerdictInvalid {
		err := fmt.Errorf("validation failed for entry %s", entry.EntryID)
		o.handler.Report(faults.KindValidation, entry.EntryID, entry.SourceName, err)
		_ = entry.MarkFailed(o.clock, "validation failed")
		result.Success = false
		result.Errors = append(result.Errors, "validation failed")
		return result
	}

	if verdict == validate.VerdictRepairable || verdict == validate.VerdictSuspicious {
		sanitized, changed, meta := o.sanitizer.Sanitize(entry.Content)
		entry.Content = sanitized
		for k, v := range meta {
			entry.SetMeta(k, v)
		}
		result.Sanitized = changed
	}

	// Parsing: learned pattern, fresh detection, static formats, then the
	// unparsed fallback.
	events, method, warnings := o.parse(entry)
	result.Warnings = append(result.Warnings, warnings...)
	result.Events = len(events)
	result.Metadata["parsing_method"] = method
	o.collector.EventsParsed.Add(int64(len(events)))
	if o.prom != nil {
		o.prom.EventsParsed.WithLabelValues(method).Add(float64(len(events)))
	}

	// Persist and analyze inside one transaction per entry.
	pairs, errs, storageErr := o.persist(ctx, entry, events)
	result.Analyses = countAnalyses(pairs)
	result.Errors = append(result.Errors, errs...)
	if storageErr != nil {
		o.handler.Report(faults.KindStorage, entry.EntryID, entry.SourceName, storageErr)
		result.Success = false
		result.Errors = append(result.Errors, storageErr.Error())
		if o.queue != nil && o.queue.Retry(entry, storageErr) {
			o.collector.EntriesRetried.Add(1)
			if o.prom != nil {
				o.prom.EntriesTotal.WithLabelValues("retried").Inc()
			}
			return result
		}
		// Retries exhausted: the entry is DEAD with the last error preserved.
		if entry.CurrentStatus() == core.StatusDead {
			o.collector.EntriesDead.Add(1)
		} else if !entry.CurrentStatus().IsTerminal() {
			_ = entry.MarkFailed(o.clock, storageErr.Error())
		}
		return result
	}

	// Notifications run after commit; their failures never fail the entry.
	o.notifyEvents(ctx, entry, pairs)

	result.Success = true
	if err := entry.MarkCompleted(o.clock); err != nil {
		o.logger.Printf("entry %s: %v", entry.EntryID, err)
	}
	return result
}

// parse tries the strategies in order and always yields at least one event.
func (o *Orchestrator) parse(entry *core.LogEntry) ([]*core.ParsedEvent, string, []string) {
	lines := nonEmptyLines(entry.Content)

	if pat, ok := o.patterns.BestForSource(entry.SourceName); ok {
		if events := o.applyPattern(pat, lines, entry); len(events) > 0 {
			tagMethod(events, core.ParseMethodLearned)
			return events, core.ParseMethodLearned, nil
		}
		o.patterns.Forget(entry.SourceName)
	}

	// Greedy catch-all patterns are not worth learning; anything below
	// MEDIUM falls through to the static formats.
	if det, err := o.detector.Detect(entry.SourceName, lines); err == nil && det.Pattern.Confidence > detect.ConfidenceLow {
		if events := o.applyPattern(det.Pattern, lines, entry); len(events) > 0 {
			o.patterns.Remember(entry.SourceName, det.Pattern)
			tagMethod(events, core.ParseMethodDetected)
			return events, core.ParseMethodDetected, nil
		}
	}

	if events, err := o.static.ParseContent(entry); err == nil {
		return events, core.ParseMethodStatic, nil
	}

	o.handler.Report(faults.KindParsing, entry.EntryID, entry.SourceName,
		fmt.Errorf("all parsing strategies failed"))
	return []*core.ParsedEvent{o.unparsedEvent(entry)}, core.ParseMethodFallback, []string{"unparsed"}
}

func (o *Orchestrator) applyPattern(pat *detect.FormatPattern, lines []string, entry *core.LogEntry) []*core.ParsedEvent {
	var events []*core.ParsedEvent
	for i, line := range lines {
		ev, ok := pat.EventFromLine(line, entry, o.clock)
		if !ok {
			continue
		}
		ev.Metadata[core.MetaLineNumber] = core.IntValue(int64(i))
		events = append(events, ev)
	}
	return events
}

// unparsedEvent synthesizes the UNKNOWN-category fallback for content no
// strategy could parse.
func (o *Orchestrator) unparsedEvent(entry *core.LogEntry) *core.ParsedEvent {
	preview := entry.Content
	if len(preview) > unparsedPreview {
		preview = preview[:unparsedPreview]
	}
	ev := core.NewParsedEvent(o.clock, entry.EntryID, entry.SourceName, preview, core.CategoryUnknown, entry.Timestamp)
	ev.Metadata[core.MetaParsingMethod] = core.StringValue(core.ParseMethodFallback)
	ev.Metadata[core.MetaUnparsed] = core.BoolValue(true)
	return ev
}

// pair is one persisted event with its optional analysis.
type pair struct {
	event    *core.ParsedEvent
	analysis *core.AIAnalysis
}

func countAnalyses(pairs []pair) int {
	n := 0
	for _, p := range pairs {
		if p.analysis != nil {
			n++
		}
	}
	return n
}

// persist writes events and best-effort analyses atomically. Returns the
// committed pairs, per-event soft errors, and a hard storage error.
func (o *Orchestrator) persist(ctx context.Context, entry *core.LogEntry, events []*core.ParsedEvent) ([]pair, []string, error) {
	tx, err := o.storage.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}

	pairs := make([]pair, 0, len(events))
	var soft []string
	analysisFailed := false
	for _, ev := range events {
		if err := tx.InsertEvent(ctx, ev); err != nil {
			_ = tx.Rollback()
			return nil, nil, err
		}
		a, aerr := o.scorer.Score(ctx, ev)
		if aerr != nil {
			if !analysisFailed {
				soft = append(soft, "analysis failed")
				analysisFailed = true
			}
			o.handler.Report(faults.KindAnalysis, entry.EntryID, ev.Source, aerr)
			pairs = append(pairs, pair{event: ev})
			continue
		}
		if err := tx.InsertAnalysis(ctx, a); err != nil {
			_ = tx.Rollback()
			return nil, nil, err
		}
		pairs = append(pairs, pair{event: ev, analysis: a})
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	o.collector.EventsPersisted.Add(int64(len(events)))
	o.collector.EntriesAnalyzed.Add(int64(countAnalyses(pairs)))
	return pairs, soft, nil
}

// notifyEvents runs rule evaluation per persisted (event, analysis) pair.
func (o *Orchestrator) notifyEvents(ctx context.Context, entry *core.LogEntry, pairs []pair) {
	for _, p := range pairs {
		results := o.notifier.Send(ctx, p.event, p.analysis)
		if len(results) == 0 {
			continue
		}
		for _, ok := range results {
			if !ok {
				o.handler.Report(faults.KindNotification, entry.EntryID, p.event.Source,
					fmt.Errorf("notification channel failed"))
			}
		}
		o.caster.BroadcastNotificationStatus("event "+p.event.ID, results)
	}
}

// finish records metrics, invokes callbacks, and emits the final broadcast.
func (o *Orchestrator) finish(entry *core.LogEntry, started time.Time, result *ProcessingResult) {
	result.ProcessingTime = o.clock.Now().Sub(started)

	o.collector.EntriesProcessed.Add(1)
	o.collector.RecordProcessingTime(result.ProcessingTime)
	if result.Success {
		o.collector.EntriesParsed.Add(1)
	} else {
		o.collector.EntriesFailed.Add(1)
	}
	if o.prom != nil {
		o.prom.ProcessingDuration.Observe(result.ProcessingTime.Seconds())
		status := "completed"
		if !result.Success {
			status = "failed"
		}
		if entry.CurrentStatus() == core.StatusDead {
			status = "dead"
		}
		o.prom.EntriesTotal.WithLabelValues(status).Inc()
	}

	o.mu.RLock()
	callbacks := append([]Callback(nil), o.callbacks...)
	o.mu.RUnlock()
	for _, cb := range callbacks {
		cb(entry.EntryID, result)
	}

	resultType := result.Type()
	o.caster.BroadcastResult(entry.SourceName, resultType, priorityFor(resultType), map[string]interface{}{
		"entry_id":          entry.EntryID,
		"success":           result.Success,
		"validation_result": string(result.ValidationResult),
		"sanitized":         result.Sanitized,
		"events":            result.Events,
		"analyses":          result.Analyses,
		"errors":            result.Errors,
		"warnings":          result.Warnings,
		"processing_ms":     result.ProcessingTime.Milliseconds(),
	})
}

func priorityFor(resultType string) broadcast.MsgPriority {
	switch resultType {
	case ResultFailure:
		return broadcast.MsgHigh
	case ResultPartialSuccess, ResultWarning:
		return broadcast.MsgMedium
	default:
		return broadcast.MsgLow
	}
}

func tagMethod(events []*core.ParsedEvent, method string) {
	for _, ev := range events {
		ev.Metadata[core.MetaParsingMethod] = core.StringValue(method)
	}
}

func nonEmptyLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, "\r"))
		}
	}
	return out
}
