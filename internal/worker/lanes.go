package worker

import (
	"log/slog"

	"unmix/internal/queue"
	"unmix/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Intake     stage.Handler
	Separation stage.Handler
	Delivery   stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

type laneKind string

const (
	laneIntake  laneKind = "intake"
	laneProcess laneKind = "process"
)

type laneState struct {
	kind                 laneKind
	name                 string
	stages               []pipelineStage
	statusOrder          []queue.Status
	stageByStart         map[queue.Status]pipelineStage
	processingStatuses   []queue.Status
	logger               *slog.Logger
	notificationsEnabled bool
	workers              int
}

func (l *laneState) finalize() {
	if l == nil {
		return
	}
	l.stageByStart = make(map[queue.Status]pipelineStage, len(l.stages))
	l.statusOrder = make([]queue.Status, 0, len(l.stages))
	seenProcessing := make(map[queue.Status]struct{})
	for _, stg := range l.stages {
		l.stageByStart[stg.startStatus] = stg
		l.statusOrder = append(l.statusOrder, stg.startStatus)
		if stg.processingStatus != "" {
			if _, ok := seenProcessing[stg.processingStatus]; !ok {
				l.processingStatuses = append(l.processingStatuses, stg.processingStatus)
				seenProcessing[stg.processingStatus] = struct{}{}
			}
		}
	}
}

func (l *laneState) stageForStatus(status queue.Status) (pipelineStage, bool) {
	if l == nil {
		return pipelineStage{}, false
	}
	stg, ok := l.stageByStart[status]
	return stg, ok
}

// ConfigureStages registers the concrete stage handlers the worker will run.
// Intake gets its own lane so downloads keep flowing while the engine-bound
// lane is busy separating.
func (m *Manager) ConfigureStages(set StageSet) {
	intake := &laneState{kind: laneIntake, name: "intake", notificationsEnabled: true, workers: m.cfg.Workflow.IntakeWorkers}
	process := &laneState{kind: laneProcess, name: "process", workers: m.cfg.Workflow.SeparationWorkers}

	if set.Intake != nil {
		intake.stages = append(intake.stages, pipelineStage{
			name:             "intake",
			handler:          set.Intake,
			startStatus:      queue.StatusPending,
			processingStatus: queue.StatusIngesting,
			doneStatus:       queue.StatusStaged,
		})
	}
	if set.Separation != nil {
		process.stages = append(process.stages, pipelineStage{
			name:             "separation",
			handler:          set.Separation,
			startStatus:      queue.StatusStaged,
			processingStatus: queue.StatusSeparating,
			doneStatus:       queue.StatusSeparated,
		})
	}
	if set.Delivery != nil {
		deliveryStart := queue.StatusSeparated
		if set.Separation == nil {
			deliveryStart = queue.StatusStaged
		}
		process.stages = append(process.stages, pipelineStage{
			name:             "delivery",
			handler:          set.Delivery,
			startStatus:      deliveryStart,
			processingStatus: queue.StatusDelivering,
			doneStatus:       queue.StatusCompleted,
		})
	}

	lanes := make(map[laneKind]*laneState)
	order := make([]laneKind, 0, 2)

	if len(intake.stages) > 0 {
		intake.finalize()
		lanes[intake.kind] = intake
		order = append(order, intake.kind)
	}
	if len(process.stages) > 0 {
		process.finalize()
		lanes[process.kind] = process
		order = append(order, process.kind)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}
