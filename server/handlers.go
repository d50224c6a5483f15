package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	"github.com/Thetwam/quiz-extensions/canvas"
	. "github.com/Thetwam/quiz-extensions/types"
)

// UpdateRequest is the JSON body of an update request.
type UpdateRequest struct {
	Percent int     `json:"percent"`
	UserIDs []int64 `json:"user_ids"`
}

// AuthResult is the outcome of an access check for a course page.
type AuthResult struct {
	Allowed bool
	Reason  string
}

// authorize decides whether the session holder may manage extensions
// for a course: admins always may, everyone else needs a Teacher, TA,
// or Designer enrollment in that course.
func authorize(session *CookieSession, cc *canvas.Client, canvasCourseID int64) AuthResult {
	if session == nil || !session.LoggedIn || session.Expired() {
		return AuthResult{Reason: "Not allowed!"}
	}
	if session.IsAdmin {
		return AuthResult{Allowed: true}
	}
	enrollments, err := cc.TeacherEnrollments(canvasCourseID, session.CanvasUserID)
	if err != nil || len(enrollments) == 0 {
		return AuthResult{Reason: "You are not enrolled in this course as a Teacher, TA, or Designer."}
	}
	return AuthResult{Allowed: true}
}

// Index handles / for users that stumble onto the tool outside Canvas.
func Index(render render.Render) {
	render.HTML(http.StatusOK, "error", map[string]string{
		"Message": "Please contact your System Administrator.",
	})
}

// QuizPage handles GET /quiz/:course_id: the student selection page.
func QuizPage(w http.ResponseWriter, r *http.Request, params martini.Params, cc *canvas.Client, render render.Render) {
	canvasCourseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	session, _ := GetSession(r)
	if auth := authorize(session, cc, canvasCourseID); !auth.Allowed {
		render.HTML(http.StatusForbidden, "error", map[string]string{"Message": auth.Reason})
		return
	}

	course, err := cc.GetCourse(canvasCourseID)
	if errors.Is(err, canvas.ErrNotFound) {
		render.HTML(http.StatusNotFound, "error", map[string]string{"Message": "Course not found."})
		return
	} else if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error fetching course %d: %v", canvasCourseID, err)
		return
	}

	render.HTML(http.StatusOK, "userselect", map[string]interface{}{
		"CourseID":   canvasCourseID,
		"CourseName": course.Name,
	})
}

// PostUpdate handles POST /update/:course_id.
func PostUpdate(w http.ResponseWriter, r *http.Request, params martini.Params, tx *sql.Tx, cc *canvas.Client, req UpdateRequest, errs binding.Errors, render render.Render) {
	canvasCourseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	session, _ := GetSession(r)
	if auth := authorize(session, cc, canvasCourseID); !auth.Allowed {
		render.JSON(http.StatusForbidden, &UpdateResult{Error: true, Message: auth.Reason})
		return
	}

	// reject bad input before any Canvas traffic; an absent body
	// binds without errors, so check for it directly
	if len(errs) > 0 || r.ContentLength <= 0 {
		render.JSON(http.StatusOK, &UpdateResult{Error: true, Message: "invalid request"})
		return
	}
	if req.Percent < 1 {
		render.JSON(http.StatusOK, &UpdateResult{Error: true, Message: "percent required"})
		return
	}

	result, err := updateCourse(tx, cc, canvasCourseID, req.Percent, req.UserIDs)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error updating course %d: %v", canvasCourseID, err)
		return
	}
	render.JSON(http.StatusOK, result)
}

// PostRefresh handles POST /refresh/:course_id.
func PostRefresh(w http.ResponseWriter, r *http.Request, params martini.Params, tx *sql.Tx, cc *canvas.Client, render render.Render) {
	canvasCourseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	session, _ := GetSession(r)
	if auth := authorize(session, cc, canvasCourseID); !auth.Allowed {
		render.JSON(http.StatusForbidden, &RefreshResult{Success: false, Message: auth.Reason})
		return
	}

	result, err := refreshCourse(tx, cc, canvasCourseID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error refreshing course %d: %v", canvasCourseID, err)
		return
	}
	render.JSON(http.StatusOK, result)
}

// GetMissingQuizzes handles GET /missing_quizzes/:course_id, a poll
// from the quiz page asking whether a refresh would do anything. It
// reports false for courses with no recorded extensions.
func GetMissingQuizzes(w http.ResponseWriter, params martini.Params, tx *sql.Tx, cc *canvas.Client, render render.Render) {
	canvasCourseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	localCourse := new(Course)
	err = meddler.QueryRow(tx, localCourse, `SELECT * FROM courses WHERE canvas_id = ?`, canvasCourseID)
	if err == sql.ErrNoRows {
		render.JSON(http.StatusOK, false)
		return
	} else if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	var activeCount int
	row := tx.QueryRow(`SELECT COUNT(*) FROM extensions WHERE course_id = ? AND active`, localCourse.ID)
	if err := row.Scan(&activeCount); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if activeCount == 0 {
		render.JSON(http.StatusOK, false)
		return
	}

	missing, err := missingQuizzes(tx, cc, canvasCourseID, true)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error checking quizzes for course %d: %v", canvasCourseID, err)
		return
	}
	render.JSON(http.StatusOK, len(missing) > 0)
}

// FilterStudents handles GET /filter/:course_id: a paged, searchable
// list of students rendered as an HTML fragment for the quiz page.
func FilterStudents(w http.ResponseWriter, r *http.Request, params martini.Params, cc *canvas.Client, render render.Render) {
	canvasCourseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	session, _ := GetSession(r)
	if auth := authorize(session, cc, canvasCourseID); !auth.Allowed {
		render.HTML(http.StatusForbidden, "error", map[string]string{"Message": auth.Reason})
		return
	}

	query := strings.ToLower(r.FormValue("query"))
	page, err := strconv.Atoi(r.FormValue("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(r.FormValue("per_page"))
	if err != nil || perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	users, numPages, err := cc.SearchStudents(canvasCourseID, query, page, perPage)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error searching students in course %d: %v", canvasCourseID, err)
		return
	}
	if numPages < 1 {
		numPages = 1
	}

	render.HTML(http.StatusOK, "user_list", map[string]interface{}{
		"Users":    users,
		"Page":     page,
		"MaxPages": numPages,
	})
}
