package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"course-intake/internal/digest"
	"course-intake/internal/model"
	"course-intake/internal/taskqueue"
	"course-intake/internal/validation"
	"course-intake/pkg/log"
	"course-intake/pkg/metrics"
)

// Stage 是编排器所处的批次阶段。
type Stage string

const (
	StageIdle       Stage = "idle"
	StageSelecting  Stage = "selecting"
	StageValidating Stage = "validating"
	StageChecking   Stage = "duplicate_checking"
	StageUploading  Stage = "uploading"
	StageSettling   Stage = "settling"
)

// Outcome 是一个批次的总体结果。
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// ErrBatchInProgress 表示上一批次尚未结算。
var ErrBatchInProgress = errors.New("an upload batch is already in progress")

// DuplicateInfo 记录在查重阶段被排除的文件。
type DuplicateInfo struct {
	LocalID  string        `json:"localId"`
	FileName string        `json:"filename"`
	Existing *ExistingFile `json:"existingFile,omitempty"`
}

// BatchResult 是一次提交的结算结果，每个被选中的文件要么出现在 Uploaded 中，要么在 Errors 中有一条说明。
type BatchResult struct {
	Outcome    Outcome            `json:"outcome"`
	BatchError string             `json:"batchError,omitempty"`
	Uploaded   []model.FileRecord `json:"uploaded"`
	Errors     []model.FileError  `json:"errors"`
	Duplicates []DuplicateInfo    `json:"duplicates,omitempty"`
	TaskIDs    []string           `json:"taskIds,omitempty"`
}

// Summary 返回一行可读的批次摘要。
func (r BatchResult) Summary() string {
	if r.BatchError != "" {
		return r.BatchError
	}
	return fmt.Sprintf("%s: %d uploaded, %d failed", r.Outcome, len(r.Uploaded), len(r.Errors))
}

// SubmitOptions 是一次提交的目标位置。
type SubmitOptions struct {
	OwnerID  uint
	CourseID string
	FolderID string
}

// Options 控制编排器的可选行为。
type Options struct {
	// SkipDuplicateCheck 为 true 时跳过上传前查重，完全依赖服务端判定。
	SkipDuplicateCheck bool
}

// Deps 是编排器的协作者。Checker、Seeder、Sink 可以为 nil。
type Deps struct {
	Validator   *validation.Validator
	Digests     *digest.Service
	Transmitter Transmitter
	Checker     DuplicateChecker
	Seeder      TaskSeeder
	Sink        FileSink
	Progress    *ProgressTracker
}

// Orchestrator 是单个选择会话的上传状态机，一次只处理一个批次。
type Orchestrator struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	stage    Stage
	selected []*model.FileCandidate
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Validator == nil {
		deps.Validator = validation.New(validation.Options{})
	}
	if deps.Digests == nil {
		deps.Digests = digest.NewService(digest.AlgorithmSHA256, 0)
	}
	if deps.Progress == nil {
		deps.Progress = NewProgressTracker(0, 0)
	}
	return &Orchestrator{deps: deps, opts: opts, stage: StageIdle}
}

// Progress 返回编排器写入的进度跟踪器。
func (o *Orchestrator) Progress() *ProgressTracker { return o.deps.Progress }

// Stage 返回当前阶段。
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// HandleFileSelect 是所有来源（文件选择器、拖拽、粘贴、API、CLI）的唯一入口，返回当前已选文件数。
func (o *Orchestrator) HandleFileSelect(source model.IntakeSource, cands ...*model.FileCandidate) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range cands {
		if c == nil {
			continue
		}
		c.Source = source
		o.selected = append(o.selected, c)
	}
	if o.stage == StageIdle {
		o.stage = StageSelecting
	}
	return len(o.selected)
}

// Selected 返回已选文件的拷贝。
func (o *Orchestrator) Selected() []*model.FileCandidate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.FileCandidate, len(o.selected))
	copy(out, o.selected)
	return out
}

// RemoveSelected 按本地 ID 移除一个已选文件。
func (o *Orchestrator) RemoveSelected(localID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.selected {
		if c.LocalID == localID {
			o.selected = append(o.selected[:i], o.selected[i+1:]...)
			return true
		}
	}
	return false
}

// ClearSelection 清空已选文件。
func (o *Orchestrator) ClearSelection() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected = nil
}

// removeSubmitted 从选择中移除本批次提交的文件，上传期间新选入的文件保留到下一批。
func (o *Orchestrator) removeSubmitted(batch []*model.FileCandidate) {
	submitted := make(map[string]bool, len(batch))
	for _, c := range batch {
		submitted[c.LocalID] = true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.selected[:0]
	for _, c := range o.selected {
		if !submitted[c.LocalID] {
			kept = append(kept, c)
		}
	}
	o.selected = kept
}

func (o *Orchestrator) setStage(s Stage) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()
}

// Submit 提交当前选择。预期内的失败（校验、重复、单文件上传失败）都体现在 BatchResult 中；
// 只有传输协作者整体失败时才返回 error，此时所有上传中的进度记录都会被标记为失败。
func (o *Orchestrator) Submit(ctx context.Context, opts SubmitOptions) (BatchResult, error) {
	o.mu.Lock()
	switch o.stage {
	case StageValidating, StageChecking, StageUploading, StageSettling:
		o.mu.Unlock()
		return BatchResult{}, ErrBatchInProgress
	}
	cands := make([]*model.FileCandidate, len(o.selected))
	copy(cands, o.selected)
	o.stage = StageValidating
	o.mu.Unlock()
	defer o.setStage(StageIdle)

	res := BatchResult{Uploaded: []model.FileRecord{}, Errors: []model.FileError{}}
	log.Infof("[Intake] 开始处理上传批次, 文件数: %d, courseID: %s", len(cands), opts.CourseID)

	if r := o.deps.Validator.ValidateBatch(cands); !r.Valid {
		log.Warnf("[Intake] 批次校验失败: %s", r.Error)
		res.BatchError = r.Error
		return o.finalize(res), nil
	}

	valid, errs := o.deps.Validator.Partition(ctx, cands)
	res.Errors = append(res.Errors, errs...)
	metrics.IncreaseUploadFilesMetric("invalid", len(errs))

	valid = o.fingerprint(ctx, valid, &res)
	if err := ctx.Err(); err != nil {
		return o.finalize(res), err
	}

	if o.deps.Checker != nil && !o.opts.SkipDuplicateCheck && len(valid) > 0 {
		o.setStage(StageChecking)
		valid = o.precheckDuplicates(ctx, opts, valid, &res)
	}

	if len(valid) == 0 {
		return o.finalize(res), nil
	}

	o.setStage(StageUploading)
	for _, c := range valid {
		o.deps.Progress.Track(c)
	}
	resp, err := o.deps.Transmitter.Transmit(ctx, TransmitRequest{
		Files:    valid,
		OwnerID:  opts.OwnerID,
		CourseID: opts.CourseID,
		FolderID: opts.FolderID,
		OnProgress: func(localID string, ev ProgressEvent) {
			o.deps.Progress.Update(localID, ev.Percent())
		},
	})
	if err != nil {
		msg := fmt.Sprintf("Upload failed: %v", err)
		for _, c := range valid {
			o.deps.Progress.Fail(c.LocalID, msg)
			res.Errors = append(res.Errors, model.FileError{FileName: c.Name, Error: msg})
		}
		metrics.IncreaseUploadFilesMetric("failed", len(valid))
		log.Error("[Intake] 上传协作者返回错误", err)
		return o.finalize(res), fmt.Errorf("上传批次失败: %w", err)
	}

	o.setStage(StageSettling)
	o.settle(ctx, valid, resp, &res)
	if len(res.Uploaded) > 0 {
		o.removeSubmitted(cands)
	}
	return o.finalize(res), nil
}

// fingerprint 为通过校验的文件计算指纹，读取失败的文件被排除并记录错误。
func (o *Orchestrator) fingerprint(ctx context.Context, valid []*model.FileCandidate, res *BatchResult) []*model.FileCandidate {
	if err := o.deps.Digests.DigestAll(ctx, valid); err == nil || ctx.Err() != nil {
		return valid
	}
	kept := make([]*model.FileCandidate, 0, len(valid))
	for _, c := range valid {
		if c.Digest == "" {
			d, err := o.deps.Digests.Digest(ctx, c)
			if err != nil {
				log.Warnf("[Intake] 计算文件指纹失败, file: %s, error: %v", c.Name, err)
				res.Errors = append(res.Errors, model.FileError{FileName: c.Name, Error: "Unable to read file content"})
				continue
			}
			c.Digest, c.DigestStrong = d.Value, d.Strong
		}
		kept = append(kept, c)
	}
	return kept
}

// precheckDuplicates 询问后端指纹是否已存在。查询出错时放行，由服务端做最终判定；弱指纹不参与查重。
func (o *Orchestrator) precheckDuplicates(ctx context.Context, opts SubmitOptions, valid []*model.FileCandidate, res *BatchResult) []*model.FileCandidate {
	kept := make([]*model.FileCandidate, 0, len(valid))
	for _, c := range valid {
		if !c.DigestStrong {
			kept = append(kept, c)
			continue
		}
		check, err := o.deps.Checker.CheckDuplicate(ctx, opts.OwnerID, c.Digest, opts.CourseID)
		if err != nil {
			log.Warnf("[Intake] 查重请求失败, 交由服务端判定, file: %s, error: %v", c.Name, err)
			kept = append(kept, c)
			continue
		}
		if !check.IsDuplicate {
			kept = append(kept, c)
			continue
		}
		log.Infof("[Intake] 文件已存在, 跳过上传, file: %s", c.Name)
		res.Duplicates = append(res.Duplicates, DuplicateInfo{LocalID: c.LocalID, FileName: c.Name, Existing: check.ExistingFile})
		res.Errors = append(res.Errors, model.FileError{FileName: c.Name, Error: duplicateMessage(c.Name)})
	}
	metrics.IncreaseUploadFilesMetric("duplicate", len(valid)-len(kept))
	return kept
}

func (o *Orchestrator) settle(ctx context.Context, sent []*model.FileCandidate, resp TransmitResponse, res *BatchResult) {
	known := make(map[string]bool, len(sent))
	byName := make(map[string][]string, len(sent))
	for _, c := range sent {
		known[c.LocalID] = true
		byName[c.Name] = append(byName[c.Name], c.LocalID)
	}
	settled := make(map[string]bool, len(sent))
	// 优先使用回传的本地 ID，否则按文件名对应，同名文件按出现顺序依次对应
	claim := func(localID, name string) string {
		if known[localID] && !settled[localID] {
			return localID
		}
		for _, id := range byName[name] {
			if !settled[id] {
				return id
			}
		}
		return ""
	}

	for _, rec := range resp.Files {
		localID := claim(rec.LocalID, rec.DisplayName)
		if localID == "" {
			log.Warnf("[Intake] 服务端返回的记录无法对应已提交的文件, 忽略, fileID: %s, name: %s", rec.ID, rec.DisplayName)
			continue
		}
		rec.LocalID = localID
		settled[localID] = true
		o.deps.Progress.Complete(localID)
		res.Uploaded = append(res.Uploaded, rec)

		if o.deps.Seeder != nil {
			ids, err := o.deps.Seeder.QueueFileProcessing(ctx, taskqueue.FileRef{
				ID:          rec.ID,
				Name:        rec.DisplayName,
				ContentType: rec.ContentType,
				OwnerID:     rec.OwnerID,
				CourseID:    rec.CourseID,
				ObjectKey:   rec.ObjectKey,
			})
			if err != nil {
				log.Error("[Intake] 播种后台任务失败, file: "+rec.DisplayName, err)
			}
			res.TaskIDs = append(res.TaskIDs, ids...)
		}
	}

	failed := 0
	for _, fe := range resp.Errors {
		msg := fe.Error
		if isAlreadyExists(msg) {
			msg = duplicateMessage(fe.FileName)
		}
		if localID := claim("", fe.FileName); localID != "" {
			settled[localID] = true
			o.deps.Progress.Fail(localID, msg)
		}
		res.Errors = append(res.Errors, model.FileError{FileName: fe.FileName, Error: msg})
		failed++
	}

	for _, c := range sent {
		if settled[c.LocalID] {
			continue
		}
		msg := "No response from server for this file"
		o.deps.Progress.Fail(c.LocalID, msg)
		res.Errors = append(res.Errors, model.FileError{FileName: c.Name, Error: msg})
		failed++
	}

	metrics.IncreaseUploadFilesMetric("uploaded", len(res.Uploaded))
	metrics.IncreaseUploadFilesMetric("failed", failed)

	if len(res.Uploaded) > 0 && o.deps.Sink != nil {
		o.deps.Sink.MergeFiles(res.Uploaded)
	}
}

func (o *Orchestrator) finalize(res BatchResult) BatchResult {
	switch {
	case len(res.Uploaded) == 0:
		res.Outcome = OutcomeFailure
	case len(res.Errors) == 0:
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomePartial
	}
	metrics.IncreaseUploadBatchesMetric(string(res.Outcome))
	log.Infof("[Intake] 批次结算完成, %s", res.Summary())
	return res
}

func isAlreadyExists(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}

func duplicateMessage(name string) string {
	return `"` + name + `" already exists in this course`
}
