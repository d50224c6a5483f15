package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/russross/meddler"
	"github.com/spf13/cobra"

	"github.com/Thetwam/quiz-extensions/canvas"
	. "github.com/Thetwam/quiz-extensions/types"
)

func CommandAddTerm(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	db := openDB()
	defer db.Close()

	cc := canvas.NewClient(Config.CanvasAPIURL, Config.CanvasAPIToken)

	var courses []*Course
	if err := meddler.QueryAll(db, &courses, `SELECT * FROM courses ORDER BY id`); err != nil {
		log.Fatalf("db error loading courses: %v", err)
	}

	for _, course := range courses {
		canvasCourse, err := cc.GetCourse(course.CanvasID)
		if errors.Is(err, canvas.ErrNotFound) {
			// course is gone from Canvas; leave the term null
			fmt.Printf("Course #%d not found. Term is null\n", course.CanvasID)
			course.CanvasTermID = 0
		} else if err != nil {
			log.Fatalf("error fetching course %d: %v", course.CanvasID, err)
		} else {
			course.CanvasTermID = canvasCourse.EnrollmentTermID
			fmt.Printf("Course #%d is term %d\n", course.CanvasID, course.CanvasTermID)
		}

		if err := meddler.Save(db, "courses", course); err != nil {
			log.Fatalf("db error saving course %d: %v", course.CanvasID, err)
		}
	}
}
