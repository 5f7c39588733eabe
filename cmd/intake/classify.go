package main

import (
	"fmt"

	"course-intake/internal/classify"
	"course-intake/internal/model"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClassifyCmd() *cobra.Command {
	var (
		coursesFile string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "classify <file name>...",
		Short: "Detect the course and category of file names",
		Long: `classify runs the course and category detection on file names only. Courses are read from
a YAML file with a top-level "courses" list of {id, code, name, professor, term}.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var courses []model.Course
			if coursesFile != "" {
				loaded, err := loadCourses(coursesFile)
				if err != nil {
					return err
				}
				courses = loaded
			}

			out := cmd.OutOrStdout()
			for _, name := range args {
				cat := classify.ExplainCategory(name)
				fmt.Fprintf(out, "%s\n  category: %s (%d%%, %s)\n", name, cat.Category, cat.Confidence, cat.Rule)
				if best := classify.DetectCourseFromFile(name, courses); best != nil {
					fmt.Fprintf(out, "  course:   %s (%d%%)\n", best.TargetID, best.Confidence)
				} else {
					fmt.Fprintln(out, "  course:   -")
				}
				for _, s := range classify.GetCourseSuggestions(name, courses, limit) {
					fmt.Fprintf(out, "    suggestion %s %d%% %v\n", s.TargetID, s.Confidence, s.Reasons)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&coursesFile, "courses", "", "YAML file listing the candidate courses")
	cmd.Flags().IntVar(&limit, "limit", 3, "Maximum number of course suggestions per file")
	return cmd
}

func loadCourses(path string) ([]model.Course, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取课程文件失败: %w", err)
	}
	var courses []model.Course
	if err := v.UnmarshalKey("courses", &courses); err != nil {
		return nil, fmt.Errorf("解析课程文件失败: %w", err)
	}
	for i := range courses {
		if courses[i].ID == "" {
			courses[i].ID = courses[i].Code
		}
	}
	return courses, nil
}
