package trigger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/delivery"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/kernel"
	"github.com/hivemind/orchestrator/internal/monitoring"
)

// Ingestor defaults.
const (
	DefaultStaleClaimAge = 60 * time.Second
	DefaultDedupeTTL     = 5 * time.Minute
	DefaultDedupeCap     = 2000
)

// Processing statuses returned by ProcessFile.
const (
	StatusDispatched    = "dispatched"
	StatusDuplicate     = "duplicate"
	StatusWorkflowGate  = "workflow_gate"
	StatusClaimConflict = "already_processing"
	StatusInvalid       = "invalid_message"
	StatusNoTargets     = "no_targets"
	StatusError         = "error"
)

// Result describes one trigger file's processing.
type Result struct {
	Status     string
	Reason     string
	DeliveryID string
	Targets    []string
}

// Emitter is the kernel surface the ingestor dispatches through.
type Emitter interface {
	Emit(eventType, recipientID string, payload map[string]interface{}, opts ...kernel.EmitOption) *event.Envelope
}

// Options configures an Ingestor. Zero fields select defaults.
type Options struct {
	Dir     string
	Table   *Table
	Tracker *delivery.Tracker
	Emitter Emitter
	Clock   clock.Clock
	Prom    *monitoring.Metrics

	// WorkflowState reports the orchestrator state; worker-targeted
	// triggers require it to be in AllowStates.
	WorkflowState func() string
	AllowStates   []string

	StaleClaimAge time.Duration
	DedupeTTL     time.Duration
	DedupeCap     int
}

// Ingestor consumes atomic trigger files from a monitored directory.
type Ingestor struct {
	dir     string
	table   *Table
	tracker *delivery.Tracker
	emitter Emitter
	clock   clock.Clock
	prom    *monitoring.Metrics
	logger  *log.Entry

	workflowState func() string
	allow         map[string]bool

	staleAge time.Duration
	dedupe   *lru.LRU[string, struct{}]
}

// NewIngestor returns an ingestor for opts.Dir.
func NewIngestor(opts Options) *Ingestor {
	var c = opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	var table = opts.Table
	if table == nil {
		table = DefaultTable()
	}
	var staleAge = opts.StaleClaimAge
	if staleAge <= 0 {
		staleAge = DefaultStaleClaimAge
	}
	var ttl = opts.DedupeTTL
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	var cap = opts.DedupeCap
	if cap <= 0 {
		cap = DefaultDedupeCap
	}
	var allow = make(map[string]bool, len(opts.AllowStates))
	for _, s := range opts.AllowStates {
		allow[s] = true
	}
	if len(allow) == 0 {
		allow["executing"] = true
		allow["reviewing"] = true
	}
	return &Ingestor{
		dir:           opts.Dir,
		table:         table,
		tracker:       opts.Tracker,
		emitter:       opts.Emitter,
		clock:         c,
		prom:          opts.Prom,
		logger:        log.WithField("component", "trigger"),
		workflowState: opts.WorkflowState,
		allow:         allow,
		staleAge:      staleAge,
		dedupe:        lru.NewLRU[string, struct{}](cap, nil, ttl),
	}
}

// ProcessFile runs the full ingest pipeline for one `<name>.txt` path.
func (in *Ingestor) ProcessFile(path string) Result {
	var base = strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(base, ".txt") {
		return Result{Status: StatusInvalid, Reason: "not_a_trigger"}
	}
	var stem = strings.TrimSuffix(base, ".txt")

	var targets, kind, err = in.table.Resolve(stem)
	if err != nil {
		in.prom.IncTriggerFile("unknown")
		return Result{Status: StatusInvalid, Reason: "unknown"}
	}

	if gated, state := in.workflowGated(targets); gated {
		in.prom.IncTriggerFile(StatusWorkflowGate)
		in.emit("trigger.blocked", event.RecipientSystem, map[string]interface{}{
			"file":   base,
			"state":  state,
			"reason": "workflow_gate",
		})
		return Result{Status: StatusWorkflowGate, Reason: state}
	}

	var processing, res = in.claim(path)
	if res != nil {
		if res.Status != StatusClaimConflict {
			in.prom.IncTriggerFile(res.Status)
		}
		return *res
	}
	// The claim is always released, whatever happens between here and
	// dispatch.
	defer func() {
		if err := os.Remove(processing); err != nil && !os.IsNotExist(err) {
			in.logger.WithError(err).Warn("failed to remove processing claim")
		}
	}()

	var raw []byte
	raw, err = os.ReadFile(processing)
	if err != nil {
		in.prom.IncTriggerFile("read_error")
		return Result{Status: StatusError, Reason: "read_error"}
	}
	var body = decodeBody(raw)

	var msgID string
	msgID, body = splitMessageID(body)
	if msgID != "" {
		if _, dup := in.dedupe.Get(msgID); dup {
			in.prom.IncTriggerFile("duplicate_message_id")
			return Result{Status: StatusDuplicate, Reason: "duplicate_message_id"}
		}
		in.dedupe.Add(msgID, struct{}{})
	}

	var msg, ok = delivery.Parse(body)
	if !ok {
		in.prom.IncTriggerFile(StatusInvalid)
		return Result{Status: StatusInvalid, Reason: "unsequenced_body"}
	}
	var sender = strings.ToLower(msg.Sender)

	if kind != KindDirect {
		targets = exclude(targets, sender)
	}
	if len(targets) == 0 {
		in.prom.IncTriggerFile(StatusNoTargets)
		return Result{Status: StatusNoTargets, Reason: "empty_target_set"}
	}

	// Sequence dedupe, per recipient pane. The session-reset marker with
	// seq 1 zeroes the watermark instead.
	var deliverable = targets[:0:0]
	for _, tg := range targets {
		if in.tracker.ShouldDeliver(sender, tg.PaneID, msg.Seq, msg.Body) {
			deliverable = append(deliverable, tg)
		}
	}
	if len(deliverable) == 0 {
		return Result{Status: StatusDuplicate, Reason: "duplicate_sequence"}
	}

	var panes = make([]string, len(deliverable))
	for i, tg := range deliverable {
		panes[i] = tg.PaneID
	}
	var mode = delivery.ModeDirect
	if kind != KindDirect {
		mode = delivery.ModeBroadcast
	}

	var deliveryID = delivery.CreateDeliveryID(sender, msg.Seq, strings.Join(panes, "+"))
	in.tracker.Start(deliveryID, sender, msg.Seq, panes, "message", mode)

	for _, tg := range deliverable {
		in.emit(event.TypeInjectRequested, tg.PaneID, map[string]interface{}{
			"message":    msg.Body,
			"sender":     sender,
			"seq":        msg.Seq,
			"deliveryId": deliveryID,
			"targetRole": tg.Role,
			"mode":       mode,
		})
	}

	in.prom.IncTriggerFile(StatusDispatched)
	in.logger.WithFields(log.Fields{
		"file":       base,
		"sender":     sender,
		"seq":        msg.Seq,
		"deliveryId": deliveryID,
		"targets":    panes,
	}).Info("trigger dispatched")
	return Result{Status: StatusDispatched, DeliveryID: deliveryID, Targets: panes}
}

// claim atomically renames `<file>.txt` to `<file>.txt.processing`. A
// stale existing claim (mtime older than the stale age) is unlinked and
// the rename retried once.
func (in *Ingestor) claim(path string) (string, *Result) {
	var processing = path + ".processing"

	if info, err := os.Stat(processing); err == nil {
		if in.clock.Now().Sub(info.ModTime()) <= in.staleAge {
			return "", &Result{Status: StatusClaimConflict, Reason: "already_processing"}
		}
		in.logger.WithField("file", filepath.Base(processing)).Warn("removing stale processing claim")
		if err := os.Remove(processing); err != nil && !os.IsNotExist(err) {
			return "", &Result{Status: StatusError, Reason: "rename_error"}
		}
	}

	if err := os.Rename(path, processing); err != nil {
		if os.IsNotExist(err) {
			// Another consumer claimed it between scan and rename.
			return "", &Result{Status: StatusClaimConflict, Reason: "already_processing"}
		}
		return "", &Result{Status: StatusError, Reason: "rename_error"}
	}
	return processing, nil
}

func (in *Ingestor) workflowGated(targets []Target) (bool, string) {
	if in.workflowState == nil {
		return false, ""
	}
	var hasWorker = false
	for _, tg := range targets {
		if tg.Worker {
			hasWorker = true
			break
		}
	}
	if !hasWorker {
		return false, ""
	}
	var state = in.workflowState()
	return !in.allow[state], state
}

func (in *Ingestor) emit(eventType, recipientID string, payload map[string]interface{}) {
	if in.emitter == nil {
		return
	}
	in.emitter.Emit(eventType, recipientID, payload, kernel.WithSource("trigger"))
}
