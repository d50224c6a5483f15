// Package canvas is a small client for the pieces of the Canvas LMS REST
// API that the quiz extensions tool needs: course/user lookups, paginated
// quiz and student listings, and quiz extension posts.
package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrNotFound reports a 404 on a direct-resource fetch (course or user).
// Paginated list endpoints never return it; a 404 there means "no results".
var ErrNotFound = errors.New("not found")

// APIError reports a Canvas response with an unexpected status code.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvas: %s %s returned status %d", e.Method, e.URL, e.StatusCode)
}

// Client issues authenticated requests against a Canvas instance.
// BaseURL is the API root, e.g. "https://example.instructure.com/api/v1".
type Client struct {
	BaseURL    string
	Token      string
	PerPage    int
	HTTPClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		PerPage:    100,
		HTTPClient: http.DefaultClient,
	}
}

// Course is the wire form of a Canvas course.
type Course struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	EnrollmentTermID int64  `json:"enrollment_term_id"`
}

// User is the wire form of a Canvas user.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	SortableName string `json:"sortable_name"`
	SISUserID    string `json:"sis_user_id"`
}

// Quiz is the wire form of a Canvas quiz. TimeLimit is in minutes and is
// null for untimed quizzes.
type Quiz struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	TimeLimit *float64 `json:"time_limit"`
}

// Enrollment is the wire form of a Canvas enrollment record.
type Enrollment struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	UserID   int64  `json:"user_id"`
	Role     string `json:"role"`
	Type     string `json:"type"`
}

// UserExtension is one entry of a quiz extensions post.
type UserExtension struct {
	UserID    int64 `json:"user_id"`
	ExtraTime int   `json:"extra_time"`
}

// GetCourse fetches a single course by its Canvas ID.
// A 404 is reported as ErrNotFound, never silently swallowed.
func (c *Client) GetCourse(courseID int64) (*Course, error) {
	course := new(Course)
	err := c.getObject(fmt.Sprintf("/courses/%d", courseID), nil, course)
	if err != nil {
		return nil, err
	}
	return course, nil
}

// GetUser fetches a single user within a course by Canvas IDs.
// A 404 is reported as ErrNotFound.
func (c *Client) GetUser(courseID, userID int64) (*User, error) {
	user := new(User)
	err := c.getObject(fmt.Sprintf("/courses/%d/users/%d", courseID, userID), nil, user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetQuizzes returns all quizzes in the course, following the Link header
// "next" relation until it is absent. Canvas reports list-endpoint errors
// as an object with an "errors" key rather than a list; that (or a 404)
// ends pagination and yields whatever was collected so far.
func (c *Client) GetQuizzes(courseID int64) ([]*Quiz, error) {
	quizzes := []*Quiz{}

	params := make(url.Values)
	params.Set("per_page", strconv.Itoa(c.PerPage))
	next := fmt.Sprintf("%s/courses/%d/quizzes?%s", c.BaseURL, courseID, params.Encode())

	for next != "" {
		resp, err := c.do("GET", next, nil)
		if err != nil {
			return nil, err
		}
		raw, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("canvas: reading quiz list: %v", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			break
		}

		page := []*Quiz{}
		if err := json.Unmarshal(raw, &page); err != nil {
			// error object instead of a list
			break
		}
		quizzes = append(quizzes, page...)

		next = parseLinkHeader(resp.Header.Get("Link"))["next"]
	}

	return quizzes, nil
}

// SearchStudents returns one page of students in the course matching
// searchTerm (all students when the term is empty), plus the total number
// of pages derived from the Link header "last" relation. Error responses
// and malformed bodies are normalized to an empty page with zero pages.
func (c *Client) SearchStudents(courseID int64, searchTerm string, page, perPage int) ([]*User, int, error) {
	params := make(url.Values)
	params.Set("search_term", searchTerm)
	params.Set("enrollment_type", "student")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))

	resp, err := c.do("GET", fmt.Sprintf("%s/courses/%d/search_users?%s", c.BaseURL, courseID, params.Encode()), nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("canvas: reading student search results: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return []*User{}, 0, nil
	}

	users := []*User{}
	if err := json.Unmarshal(raw, &users); err != nil {
		return []*User{}, 0, nil
	}

	numPages := 0
	if last := parseLinkHeader(resp.Header.Get("Link"))["last"]; last != "" {
		numPages = pageNumber(last)
	}

	return users, numPages, nil
}

// TeacherEnrollments returns the user's Teacher, TA, and Designer
// enrollments in the course. An empty list means the user holds none.
func (c *Client) TeacherEnrollments(courseID, userID int64) ([]*Enrollment, error) {
	params := make(url.Values)
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Add("type[]", "TeacherEnrollment")
	params.Add("type[]", "TaEnrollment")
	params.Add("type[]", "DesignerEnrollment")

	resp, err := c.do("GET", fmt.Sprintf("%s/courses/%d/enrollments?%s", c.BaseURL, courseID, params.Encode()), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("canvas: reading enrollments: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return []*Enrollment{}, nil
	}

	enrollments := []*Enrollment{}
	if err := json.Unmarshal(raw, &enrollments); err != nil {
		return []*Enrollment{}, nil
	}
	return enrollments, nil
}

// ExtendQuiz posts extra time for a set of users on one quiz.
// Any non-200 response is reported as an *APIError carrying the status.
func (c *Client) ExtendQuiz(courseID, quizID int64, extensions []UserExtension) error {
	body := map[string][]UserExtension{"quiz_extensions": extensions}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("canvas: encoding quiz extensions: %v", err)
	}

	target := fmt.Sprintf("%s/courses/%d/quizzes/%d/extensions", c.BaseURL, courseID, quizID)
	resp, err := c.do("POST", target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Method: "POST", URL: target}
	}
	return nil
}

func (c *Client) getObject(path string, params url.Values, download interface{}) error {
	target := c.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	resp, err := c.do("GET", target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("canvas: GET %s: %w", target, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return &APIError{StatusCode: resp.StatusCode, Method: "GET", URL: target}
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(download); err != nil {
		return fmt.Errorf("canvas: parsing response from %s: %v", target, err)
	}
	return nil
}

func (c *Client) do(method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, fmt.Errorf("canvas: creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("canvas: %s %s: %v", method, target, err)
	}
	return resp, nil
}

// parseLinkHeader maps rel names ("next", "last", ...) to URLs from a
// Canvas pagination Link header of the form:
//
//	<https://host/path?page=2>; rel="next", <https://host/path?page=9>; rel="last"
func parseLinkHeader(header string) map[string]string {
	links := make(map[string]string)
	for _, entry := range strings.Split(header, ",") {
		parts := strings.Split(entry, ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
		for _, param := range parts[1:] {
			param = strings.TrimSpace(param)
			if rel, ok := strings.CutPrefix(param, `rel="`); ok {
				links[strings.TrimSuffix(rel, `"`)] = target
			}
		}
	}
	return links
}

// pageNumber extracts the page query parameter from a pagination URL,
// or 0 if it is missing or malformed.
func pageNumber(target string) int {
	u, err := url.Parse(target)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil {
		return 0
	}
	return n
}
