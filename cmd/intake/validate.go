package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"course-intake/internal/model"
	"course-intake/internal/validation"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate files against the upload rules without uploading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cands, closeAll, err := collectCandidates(args)
			if err != nil {
				return err
			}
			defer closeAll()

			v := validation.New(validation.Options{
				MaxFileSize:   cfg.Upload.MaxFileSize,
				MaxBatchFiles: cfg.Upload.MaxBatchFiles,
			})
			out := cmd.OutOrStdout()
			failed := 0
			for _, c := range cands {
				r := v.ValidateFile(cmd.Context(), c)
				if r.Valid {
					fmt.Fprintf(out, "ok    %-40s %-10s %s\n", c.Name, r.Category, humanize.IBytes(uint64(c.Size)))
					continue
				}
				failed++
				fmt.Fprintf(out, "fail  %-40s %s\n", c.Name, r.Error)
			}
			if r := v.ValidateBatch(cands); !r.Valid {
				fmt.Fprintf(out, "note  %s; upload will split the files into batches of %d\n", r.Error, v.MaxBatchFiles())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed validation", failed, len(cands))
			}
			return nil
		},
	}
	return cmd
}

// collectCandidates 把参数中的文件和目录展开为候选文件，目录会递归遍历并跳过隐藏文件。
func collectCandidates(paths []string) ([]*model.FileCandidate, func(), error) {
	var (
		cands []*model.FileCandidate
		files []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	add := func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return err
		}
		files = append(files, f)
		name := filepath.Base(path)
		c := model.NewCandidate(name, validation.ResolveContentType("", name), info.Size(), f)
		c.Source = model.SourceCLI
		cands = append(cands, c)
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if !info.IsDir() {
			if err := add(p); err != nil {
				closeAll()
				return nil, nil, err
			}
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != p {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			return add(path)
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	return cands, closeAll, nil
}
