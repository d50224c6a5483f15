package main

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/russross/meddler"

	"github.com/Thetwam/quiz-extensions/canvas"
	. "github.com/Thetwam/quiz-extensions/types"
)

// ExtensionResult reports the outcome of pushing extended time for a
// single quiz. AddedTime is nil when the quiz has no time limit (a
// success with nothing to change) and on failure.
type ExtensionResult struct {
	Success   bool
	Message   string
	AddedTime *int
}

// UpdateResult is the JSON reply for an update request.
type UpdateResult struct {
	Error         bool             `json:"error"`
	Message       string           `json:"message"`
	QuizList      []QuizTimeEntry  `json:"quiz_list,omitempty"`
	UnchangedList []QuizTitleEntry `json:"unchanged_list,omitempty"`
}

type QuizTimeEntry struct {
	Title     string `json:"title"`
	AddedTime int    `json:"added_time"`
}

type QuizTitleEntry struct {
	Title string `json:"title"`
}

// RefreshResult is the JSON reply for a refresh request.
type RefreshResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// addedTime computes the minutes to add for a quiz time limit and a
// percent of normal time, rounding up to a whole minute.
func addedTime(timeLimit float64, percent int) int {
	return int(math.Ceil(timeLimit * (float64(percent) - 100.0) / 100.0))
}

// extendQuiz pushes extended time on one quiz for a set of users.
// A quiz with no time limit is a success with no time added.
func extendQuiz(cc *canvas.Client, canvasCourseID int64, quiz *canvas.Quiz, percent int, canvasUserIDs []int64) *ExtensionResult {
	if quiz.TimeLimit == nil || *quiz.TimeLimit < 1 {
		return &ExtensionResult{
			Success: true,
			Message: fmt.Sprintf("Quiz #%d has no time limit, so there is no time to add.", quiz.ID),
		}
	}

	added := addedTime(*quiz.TimeLimit, percent)
	extensions := make([]canvas.UserExtension, 0, len(canvasUserIDs))
	for _, id := range canvasUserIDs {
		extensions = append(extensions, canvas.UserExtension{UserID: id, ExtraTime: added})
	}

	if err := cc.ExtendQuiz(canvasCourseID, quiz.ID, extensions); err != nil {
		status := 0
		var apiErr *canvas.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return &ExtensionResult{
			Success: false,
			Message: fmt.Sprintf("Error creating extension for quiz #%d. Canvas status code: %d", quiz.ID, status),
		}
	}

	return &ExtensionResult{
		Success:   true,
		Message:   fmt.Sprintf("Successfully added %d minutes to quiz #%d", added, quiz.ID),
		AddedTime: &added,
	}
}

// upsertCourse records a Canvas course locally, keyed by its Canvas ID.
func upsertCourse(tx *sql.Tx, cc *canvas.Course) (*Course, error) {
	course := new(Course)
	err := meddler.QueryRow(tx, course, `SELECT * FROM courses WHERE canvas_id = ?`, cc.ID)
	if err == sql.ErrNoRows {
		course = &Course{CanvasID: cc.ID}
	} else if err != nil {
		return nil, err
	}
	course.Name = cc.Name
	course.CanvasTermID = cc.EnrollmentTermID
	if err := meddler.Save(tx, "courses", course); err != nil {
		return nil, err
	}
	return course, nil
}

func upsertUser(tx *sql.Tx, cu *canvas.User) (*User, error) {
	user := new(User)
	err := meddler.QueryRow(tx, user, `SELECT * FROM users WHERE canvas_id = ?`, cu.ID)
	if err == sql.ErrNoRows {
		user = &User{CanvasID: cu.ID}
	} else if err != nil {
		return nil, err
	}
	user.SortableName = cu.SortableName
	user.SISID = cu.SISUserID
	if err := meddler.Save(tx, "users", user); err != nil {
		return nil, err
	}
	return user, nil
}

func upsertQuiz(tx *sql.Tx, courseID int64, cq *canvas.Quiz) (*Quiz, error) {
	quiz := new(Quiz)
	err := meddler.QueryRow(tx, quiz, `SELECT * FROM quizzes WHERE canvas_id = ? AND course_id = ?`, cq.ID, courseID)
	if err == sql.ErrNoRows {
		quiz = &Quiz{CanvasID: cq.ID, CourseID: courseID}
	} else if err != nil {
		return nil, err
	}
	quiz.Title = cq.Title
	if err := meddler.Save(tx, "quizzes", quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// upsertExtension records the requested percent for a (course, user)
// pair, updating the active row in place if one exists so that a pair
// never has more than one active extension.
func upsertExtension(tx *sql.Tx, courseID, userID int64, percent int) error {
	extension := new(Extension)
	err := meddler.QueryRow(tx, extension,
		`SELECT * FROM extensions WHERE course_id = ? AND user_id = ? AND active`, courseID, userID)
	if err == sql.ErrNoRows {
		extension = &Extension{CourseID: courseID, UserID: userID, Active: true}
	} else if err != nil {
		return err
	}
	extension.Percent = percent
	return meddler.Save(tx, "extensions", extension)
}

// updateCourse records the requested extensions and pushes extended
// time to every quiz in the course for the full requested user set.
func updateCourse(tx *sql.Tx, cc *canvas.Client, canvasCourseID int64, percent int, canvasUserIDs []int64) (*UpdateResult, error) {
	course, err := cc.GetCourse(canvasCourseID)
	if errors.Is(err, canvas.ErrNotFound) {
		return &UpdateResult{Error: true, Message: "Course not found."}, nil
	} else if err != nil {
		return nil, err
	}

	localCourse, err := upsertCourse(tx, course)
	if err != nil {
		return nil, err
	}

	for _, canvasUserID := range canvasUserIDs {
		user, err := cc.GetUser(canvasCourseID, canvasUserID)
		if errors.Is(err, canvas.ErrNotFound) {
			// user is gone from Canvas; do not record anything for them
			continue
		} else if err != nil {
			return nil, err
		}
		localUser, err := upsertUser(tx, user)
		if err != nil {
			return nil, err
		}
		if err := upsertExtension(tx, localCourse.ID, localUser.ID, percent); err != nil {
			return nil, err
		}
	}

	quizzes, err := cc.GetQuizzes(canvasCourseID)
	if err != nil {
		return nil, err
	}
	if len(quizzes) == 0 {
		return &UpdateResult{Error: true, Message: "Sorry, there are no quizzes for this course."}, nil
	}

	var quizList []QuizTimeEntry
	var unchangedList []QuizTitleEntry
	for _, quiz := range quizzes {
		if _, err := upsertQuiz(tx, localCourse.ID, quiz); err != nil {
			return nil, err
		}
		result := extendQuiz(cc, canvasCourseID, quiz, percent, canvasUserIDs)
		if !result.Success {
			return &UpdateResult{Error: true, Message: result.Message}, nil
		}
		if result.AddedTime != nil {
			quizList = append(quizList, QuizTimeEntry{Title: quiz.Title, AddedTime: *result.AddedTime})
		} else {
			unchangedList = append(unchangedList, QuizTitleEntry{Title: quiz.Title})
		}
	}

	message := fmt.Sprintf(
		"Success! %d %s been updated for %d student(s) to have %d%% time. "+
			"%d %s no time limit and were left unchanged.",
		len(quizList), plural(len(quizList), "quizzes have", "quiz has"),
		len(canvasUserIDs), percent,
		len(unchangedList), plural(len(unchangedList), "quizzes have", "quiz has"),
	)

	return &UpdateResult{
		Message:       message,
		QuizList:      quizList,
		UnchangedList: unchangedList,
	}, nil
}

func plural(n int, many, one string) string {
	if n == 1 {
		return one
	}
	return many
}

// refreshCourse pushes extended time to quizzes added since the
// extensions were recorded, deactivating extensions whose users have
// disappeared from Canvas.
func refreshCourse(tx *sql.Tx, cc *canvas.Client, canvasCourseID int64) (*RefreshResult, error) {
	course, err := cc.GetCourse(canvasCourseID)
	if errors.Is(err, canvas.ErrNotFound) {
		return &RefreshResult{Success: false, Message: "Course not found."}, nil
	} else if err != nil {
		return nil, err
	}

	localCourse, err := upsertCourse(tx, course)
	if err != nil {
		return nil, err
	}

	// load the course's active extensions with the Canvas IDs of
	// their users
	type extensionWithUser struct {
		ID           int64 `meddler:"id,pk"`
		CourseID     int64 `meddler:"course_id"`
		UserID       int64 `meddler:"user_id"`
		Percent      int   `meddler:"percent"`
		Active       bool  `meddler:"active"`
		CanvasUserID int64 `meddler:"canvas_user_id"`
	}
	var active []*extensionWithUser
	if err := meddler.QueryAll(tx, &active, `
		SELECT extensions.id AS id, extensions.course_id AS course_id,
			extensions.user_id AS user_id, extensions.percent AS percent,
			extensions.active AS active, users.canvas_id AS canvas_user_id
		FROM extensions JOIN users ON users.id = extensions.user_id
		WHERE extensions.course_id = ? AND extensions.active
		ORDER BY extensions.id`, localCourse.ID); err != nil {
		return nil, err
	}

	// group surviving users by percent, dropping extensions whose
	// users no longer exist in Canvas
	percentGroups := make(map[int][]int64)
	for _, ext := range active {
		if _, err := cc.GetUser(canvasCourseID, ext.CanvasUserID); errors.Is(err, canvas.ErrNotFound) {
			deactivated := &Extension{
				ID:       ext.ID,
				CourseID: ext.CourseID,
				UserID:   ext.UserID,
				Percent:  ext.Percent,
				Active:   false,
			}
			if err := meddler.Save(tx, "extensions", deactivated); err != nil {
				return nil, err
			}
			continue
		} else if err != nil {
			return nil, err
		}
		percentGroups[ext.Percent] = append(percentGroups[ext.Percent], ext.CanvasUserID)
	}

	missing, err := missingQuizzes(tx, cc, canvasCourseID, false)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return &RefreshResult{Success: true, Message: "No quizzes require updates."}, nil
	}

	percents := make([]int, 0, len(percentGroups))
	for percent := range percentGroups {
		percents = append(percents, percent)
	}
	sort.Ints(percents)

	updated := 0
	for _, quiz := range missing {
		for _, percent := range percents {
			result := extendQuiz(cc, canvasCourseID, quiz, percent, percentGroups[percent])
			if !result.Success {
				return &RefreshResult{
					Success: false,
					Message: "Some quizzes couldn't be updated. " + result.Message,
				}, nil
			}
		}
		if _, err := upsertQuiz(tx, localCourse.ID, quiz); err != nil {
			return nil, err
		}
		updated++
	}

	return &RefreshResult{
		Success: true,
		Message: fmt.Sprintf("%d quizzes have been updated.", updated),
	}, nil
}

// missingQuizzes lists the Canvas quizzes for a course that have no
// local quiz row, in the order Canvas returns them. With quickcheck
// set it stops at the first hit.
func missingQuizzes(tx *sql.Tx, cc *canvas.Client, canvasCourseID int64, quickcheck bool) ([]*canvas.Quiz, error) {
	localCourse := new(Course)
	err := meddler.QueryRow(tx, localCourse, `SELECT * FROM courses WHERE canvas_id = ?`, canvasCourseID)
	if err == sql.ErrNoRows {
		localCourse = nil
	} else if err != nil {
		return nil, err
	}

	quizzes, err := cc.GetQuizzes(canvasCourseID)
	if err != nil {
		return nil, err
	}

	var missing []*canvas.Quiz
	for _, quiz := range quizzes {
		known := false
		if localCourse != nil {
			var count int
			row := tx.QueryRow(`SELECT COUNT(*) FROM quizzes WHERE canvas_id = ? AND course_id = ?`,
				quiz.ID, localCourse.ID)
			if err := row.Scan(&count); err != nil {
				return nil, err
			}
			known = count > 0
		}
		if !known {
			missing = append(missing, quiz)
			if quickcheck {
				break
			}
		}
	}

	return missing, nil
}
