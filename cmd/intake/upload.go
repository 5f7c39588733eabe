package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"course-intake/internal/config"
	"course-intake/internal/digest"
	"course-intake/internal/intake"
	"course-intake/internal/model"
	"course-intake/internal/validation"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var (
		serverURL string
		tok       string
		courseID  string
		folderID  string
		skipCheck bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file|dir>...",
		Short: "Validate, fingerprint and upload files to the intake server in batches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if tok == "" {
				tok = os.Getenv("INTAKE_TOKEN")
			}
			if tok == "" {
				return errors.New("an access token is required (--token or INTAKE_TOKEN)")
			}
			cands, closeAll, err := collectCandidates(args)
			if err != nil {
				return err
			}
			defer closeAll()
			if len(cands) == 0 {
				return errors.New("no files found")
			}

			remote := newRemoteClient(serverURL, tok)
			u := newUploader(cfg, remote, cmd.OutOrStdout())
			u.opts.SkipDuplicateCheck = skipCheck || cfg.Upload.SkipDuplicateCheck

			total := u.run(cmd, cands, intake.SubmitOptions{CourseID: courseID, FolderID: folderID})
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d uploaded, %d skipped as duplicates, %d failed\n",
				total.uploaded, total.duplicates, total.failed)
			if total.err != nil {
				return total.err
			}
			if total.failed > 0 {
				return fmt.Errorf("%d files failed to upload", total.failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8081", "Base URL of the intake server")
	cmd.Flags().StringVar(&tok, "token", "", "Access token (defaults to $INTAKE_TOKEN)")
	cmd.Flags().StringVar(&courseID, "course", "", "Course ID to file the uploads under")
	cmd.Flags().StringVar(&folderID, "folder", "", "Folder ID inside the course")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the duplicate pre-check")
	return cmd
}

type uploadTotals struct {
	uploaded   int
	duplicates int
	failed     int
	err        error
}

// uploader 按批次上限切分文件，每批使用一个新的编排器，进度跟踪器在批次之间共享。
type uploader struct {
	deps intake.Deps
	opts intake.Options
	out  io.Writer

	mu       sync.Mutex
	reported map[string]model.UploadStatus
}

func newUploader(cfg config.Config, remote *remoteClient, out io.Writer) *uploader {
	u := &uploader{
		deps: intake.Deps{
			Validator: validation.New(validation.Options{
				MaxFileSize:   cfg.Upload.MaxFileSize,
				MaxBatchFiles: cfg.Upload.MaxBatchFiles,
			}),
			Digests:     digest.NewService(cfg.Digest.Algorithm, cfg.Digest.Concurrency),
			Transmitter: remote,
			Checker:     remote,
			Progress:    intake.NewProgressTracker(cfg.Upload.CompletedGrace, 0),
		},
		out:      out,
		reported: make(map[string]model.UploadStatus),
	}
	u.deps.Progress.Subscribe(u.report)
	return u
}

// report 只在文件进入终态时输出一行。
func (u *uploader) report(snapshot []model.UploadProgress) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range snapshot {
		if e.Status != model.UploadCompleted && e.Status != model.UploadError {
			continue
		}
		if u.reported[e.FileID] == e.Status {
			continue
		}
		u.reported[e.FileID] = e.Status
		if e.Status == model.UploadCompleted {
			fmt.Fprintf(u.out, "  uploaded  %s\n", e.FileName)
		} else {
			fmt.Fprintf(u.out, "  failed    %s: %s\n", e.FileName, e.Error)
		}
	}
}

func (u *uploader) run(cmd *cobra.Command, cands []*model.FileCandidate, opts intake.SubmitOptions) uploadTotals {
	var total uploadTotals
	batchSize := u.deps.Validator.MaxBatchFiles()
	for start := 0; start < len(cands); start += batchSize {
		end := start + batchSize
		if end > len(cands) {
			end = len(cands)
		}
		batch := cands[start:end]
		var size int64
		for _, c := range batch {
			size += c.Size
		}
		fmt.Fprintf(u.out, "batch %d: %d files, %s\n", start/batchSize+1, len(batch), humanize.IBytes(uint64(size)))

		orch := intake.NewOrchestrator(u.deps, u.opts)
		orch.HandleFileSelect(model.SourceCLI, batch...)
		res, err := orch.Submit(cmd.Context(), opts)
		total.uploaded += len(res.Uploaded)
		total.duplicates += len(res.Duplicates)
		// 查重命中的文件同时出现在 Errors 中，这里单独计数
		total.failed += len(res.Errors) - len(res.Duplicates)
		dup := make(map[string]bool, len(res.Duplicates))
		for _, d := range res.Duplicates {
			dup[d.FileName] = true
			fmt.Fprintf(u.out, "  skipped   %s (already uploaded)\n", d.FileName)
		}
		for _, fe := range res.Errors {
			if !dup[fe.FileName] && !u.wasReported(fe.FileName) {
				fmt.Fprintf(u.out, "  rejected  %s: %s\n", fe.FileName, fe.Error)
			}
		}
		if res.BatchError != "" {
			fmt.Fprintf(u.out, "  batch rejected: %s\n", res.BatchError)
		}
		if err != nil {
			total.err = err
			return total
		}
	}
	return total
}

// wasReported 判断某个文件名的失败是否已经通过进度订阅输出过，校验失败的文件不会进入进度跟踪。
func (u *uploader) wasReported(fileName string) bool {
	for _, e := range u.deps.Progress.Snapshot() {
		if e.FileName == fileName && e.Status == model.UploadError {
			return true
		}
	}
	return false
}
