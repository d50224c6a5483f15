package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCourse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/1", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id": 1, "name": "Example Course", "enrollment_term_id": 11}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	course, err := c.GetCourse(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), course.ID)
	assert.Equal(t, "Example Course", course.Name)
	assert.Equal(t, int64(11), course.EnrollmentTermID)
}

func TestGetCourseNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": [{"message": "The specified resource does not exist."}]}`, http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	course, err := c.GetCourse(42)
	assert.Nil(t, course)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetUserNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	user, err := c.GetUser(1, 9999)
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetCourseServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	_, err := c.GetCourse(1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestGetQuizzesPagination(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/courses/1/quizzes", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/courses/1/quizzes?page=2>; rel="next", <%s/courses/1/quizzes?page=2>; rel="last"`, ts.URL, ts.URL))
			fmt.Fprint(w, `[{"id": 4, "title": "Quiz 4", "time_limit": 10}, {"id": 5, "title": "Quiz 5", "time_limit": 30}]`)
		case "2":
			fmt.Fprint(w, `[{"id": 6, "title": "Quiz 6", "time_limit": null}]`)
		default:
			t.Fatalf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	quizzes, err := c.GetQuizzes(1)
	require.NoError(t, err)
	require.Len(t, quizzes, 3)
	assert.Equal(t, int64(4), quizzes[0].ID)
	assert.Equal(t, int64(5), quizzes[1].ID)
	assert.Equal(t, int64(6), quizzes[2].ID)
	require.NotNil(t, quizzes[1].TimeLimit)
	assert.Equal(t, 30.0, *quizzes[1].TimeLimit)
	assert.Nil(t, quizzes[2].TimeLimit)
}

func TestGetQuizzesErrorObject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "An error occurred.", "error_code": "internal_server_error"}]}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	quizzes, err := c.GetQuizzes(1)
	require.NoError(t, err)
	assert.Empty(t, quizzes)
}

func TestGetQuizzesNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	quizzes, err := c.GetQuizzes(1)
	require.NoError(t, err)
	assert.Empty(t, quizzes)
}

func TestSearchStudents(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/courses/1/search_users", r.URL.Path)
		assert.Equal(t, "john", r.URL.Query().Get("search_term"))
		assert.Equal(t, "student", r.URL.Query().Get("enrollment_type"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/courses/1/search_users?page=2>; rel="next", <%s/courses/1/search_users?page=5>; rel="last"`, ts.URL, ts.URL))
		fmt.Fprint(w, `[{"id": 7, "sortable_name": "Smith, John", "sis_user_id": "s007"}]`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	users, numPages, err := c.SearchStudents(1, "john", 1, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Smith, John", users[0].SortableName)
	assert.Equal(t, "s007", users[0].SISUserID)
	assert.Equal(t, 5, numPages)
}

func TestSearchStudentsErrorObject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "An error occurred."}]}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	users, numPages, err := c.SearchStudents(1, "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Equal(t, 0, numPages)
}

func TestTeacherEnrollments(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/courses/1/enrollments", r.URL.Path)
		assert.Equal(t, "99", r.URL.Query().Get("user_id"))
		assert.Equal(t, []string{"TeacherEnrollment", "TaEnrollment", "DesignerEnrollment"}, r.URL.Query()["type[]"])
		fmt.Fprint(w, `[{"id": 3, "course_id": 1, "user_id": 99, "type": "TaEnrollment"}]`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	enrollments, err := c.TeacherEnrollments(1, 99)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, "TaEnrollment", enrollments[0].Type)
}

func TestTeacherEnrollmentsNone(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	enrollments, err := c.TeacherEnrollments(1, 99)
	require.NoError(t, err)
	assert.Empty(t, enrollments)
}

func TestExtendQuiz(t *testing.T) {
	var posted struct {
		QuizExtensions []UserExtension `json:"quiz_extensions"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/courses/1/quizzes/4/extensions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		fmt.Fprint(w, `{"quiz_extensions": []}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	err := c.ExtendQuiz(1, 4, []UserExtension{
		{UserID: 7, ExtraTime: 10},
		{UserID: 8, ExtraTime: 10},
	})
	require.NoError(t, err)
	require.Len(t, posted.QuizExtensions, 2)
	assert.Equal(t, int64(7), posted.QuizExtensions[0].UserID)
	assert.Equal(t, 10, posted.QuizExtensions[0].ExtraTime)
}

func TestExtendQuizFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": [{"message": "forbidden"}]}`, http.StatusForbidden)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "sekrit")
	err := c.ExtendQuiz(1, 4, []UserExtension{{UserID: 7, ExtraTime: 10}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestParseLinkHeader(t *testing.T) {
	header := `<https://example.com/api/v1/courses/1/quizzes?page=2&per_page=10>; rel="next", ` +
		`<https://example.com/api/v1/courses/1/quizzes?page=1&per_page=10>; rel="first", ` +
		`<https://example.com/api/v1/courses/1/quizzes?page=9&per_page=10>; rel="last"`
	links := parseLinkHeader(header)
	assert.Equal(t, "https://example.com/api/v1/courses/1/quizzes?page=2&per_page=10", links["next"])
	assert.Equal(t, "https://example.com/api/v1/courses/1/quizzes?page=9&per_page=10", links["last"])
	assert.Equal(t, "https://example.com/api/v1/courses/1/quizzes?page=1&per_page=10", links["first"])

	assert.Empty(t, parseLinkHeader(""))
}

func TestPageNumber(t *testing.T) {
	assert.Equal(t, 9, pageNumber("https://example.com/api/v1/courses/1/quizzes?page=9&per_page=10"))
	assert.Equal(t, 0, pageNumber("https://example.com/api/v1/courses/1/quizzes"))
	assert.Equal(t, 0, pageNumber("://not-a-url"))
}
