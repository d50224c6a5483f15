package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/russross/blackfriday/v2"
	"github.com/russross/meddler"
	"github.com/spf13/cobra"
	gcfg "gopkg.in/gcfg.v1"

	. "github.com/Thetwam/quiz-extensions/types"
)

// ReportConfig is read from report.cfg. term may repeat to cover
// several terms; blacklist-user lists Canvas user IDs to omit (test
// accounts and the like).
type ReportConfig struct {
	Report struct {
		Include100    bool    `gcfg:"include-100"`
		Term          []int64 `gcfg:"term"`
		BlacklistUser []int64 `gcfg:"blacklist-user"`
	}
}

func CommandReport(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	db := openDB()
	defer db.Close()

	var rc ReportConfig
	cfgFile := filepath.Join(root, "report.cfg")
	if _, err := os.Stat(cfgFile); err == nil {
		if err := gcfg.ReadFileInto(&rc, cfgFile); err != nil {
			log.Fatalf("failed to parse %q: %v", cfgFile, err)
		}
	}

	terms := make(map[int64]bool)
	for _, term := range rc.Report.Term {
		terms[term] = true
	}
	blacklist := make(map[int64]bool)
	for _, id := range rc.Report.BlacklistUser {
		blacklist[id] = true
	}

	var courses []*Course
	if err := meddler.QueryAll(db, &courses, `SELECT * FROM courses ORDER BY id`); err != nil {
		log.Fatalf("db error loading courses: %v", err)
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "# Quiz extension usage\n\n")
	fmt.Fprintf(buf, "## Breakdown by course\n\n")

	courseFreqs := make(map[int]int)
	var largestCourse *Course
	largestCourseSize := 0

	reported := 0
	for _, course := range courses {
		if len(terms) > 0 && !terms[course.CanvasTermID] {
			continue
		}
		reported++
	}
	fmt.Fprintf(buf, "Number of courses: %d\n\n", reported)

	for _, course := range courses {
		if len(terms) > 0 && !terms[course.CanvasTermID] {
			continue
		}

		fmt.Fprintf(buf, "- **%s** (%d)\n", course.Name, course.CanvasID)

		var quizCount int
		row := db.QueryRow(`SELECT COUNT(*) FROM quizzes WHERE course_id = ?`, course.ID)
		if err := row.Scan(&quizCount); err != nil {
			log.Fatalf("db error counting quizzes: %v", err)
		}
		fmt.Fprintf(buf, "  - %d %s\n", quizCount, pluralWord(quizCount, "quizzes", "quiz"))

		type extensionLine struct {
			Percent      int    `meddler:"percent"`
			SortableName string `meddler:"sortable_name"`
		}
		var lines []*extensionLine
		query := `
			SELECT extensions.percent AS percent, users.sortable_name AS sortable_name
			FROM extensions JOIN users ON users.id = extensions.user_id
			WHERE extensions.course_id = ?`
		if !rc.Report.Include100 {
			query += ` AND extensions.percent <> 100`
		}
		query += ` ORDER BY extensions.id`
		if err := meddler.QueryAll(db, &lines, query, course.ID); err != nil {
			log.Fatalf("db error loading extensions: %v", err)
		}
		if len(lines) == 0 {
			continue
		}

		fmt.Fprintf(buf, "  - %d %s:\n", len(lines), pluralWord(len(lines), "extensions", "extension"))
		courseFreqs[len(lines)]++
		if len(lines) > largestCourseSize {
			largestCourseSize = len(lines)
			largestCourse = course
		}
		for _, line := range lines {
			fmt.Fprintf(buf, "    - %d%% %s\n", line.Percent, line.SortableName)
		}
	}

	// breakdown by user
	var users []*User
	if err := meddler.QueryAll(db, &users, `SELECT * FROM users ORDER BY id`); err != nil {
		log.Fatalf("db error loading users: %v", err)
	}

	userFreqs := make(map[int]int)
	var largestUser *User
	largestUserSize := 0

	for _, user := range users {
		if blacklist[user.CanvasID] {
			continue
		}
		query := `SELECT COUNT(*) FROM extensions WHERE user_id = ?`
		if !rc.Report.Include100 {
			query += ` AND percent <> 100`
		}
		var count int
		if err := db.QueryRow(query, user.ID).Scan(&count); err != nil {
			log.Fatalf("db error counting extensions: %v", err)
		}
		if count == 0 {
			continue
		}
		userFreqs[count]++
		if count > largestUserSize {
			largestUserSize = count
			largestUser = user
		}
	}

	fmt.Fprintf(buf, "\n## Summary\n\n")

	fmt.Fprintf(buf, "Course extensions frequency distribution:\n\n")
	fmt.Fprintf(buf, "| Num Ext | Num Courses |\n")
	fmt.Fprintf(buf, "| ------- | ----------- |\n")
	for _, k := range sortedKeys(courseFreqs) {
		fmt.Fprintf(buf, "| %d | %d |\n", k, courseFreqs[k])
	}
	if largestCourse != nil {
		fmt.Fprintf(buf, "\nCourse with the most extensions: **%s** with %d extensions\n",
			largestCourse.Name, largestCourseSize)
	}

	fmt.Fprintf(buf, "\nUser extensions frequency distribution:\n\n")
	fmt.Fprintf(buf, "| Num Ext | Num Users |\n")
	fmt.Fprintf(buf, "| ------- | --------- |\n")
	for _, k := range sortedKeys(userFreqs) {
		fmt.Fprintf(buf, "| %d | %d |\n", k, userFreqs[k])
	}
	if largestUser != nil {
		fmt.Fprintf(buf, "\nUser with the most extensions: **%s** with %d extensions\n",
			largestUser.SortableName, largestUserSize)
	}

	if htmlFile, _ := cmd.Flags().GetString("html"); htmlFile != "" {
		html := blackfriday.Run(buf.Bytes())
		if err := ioutil.WriteFile(htmlFile, html, 0644); err != nil {
			log.Fatalf("error writing %q: %v", htmlFile, err)
		}
		fmt.Printf("report written to %s\n", htmlFile)
		return
	}

	os.Stdout.Write(buf.Bytes())
}

func pluralWord(n int, many, one string) string {
	if n == 1 {
		return one
	}
	return many
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
