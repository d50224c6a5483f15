package types

const (
	CookieName = "quizext"

	// DefaultPerPage is the page size used when searching students.
	DefaultPerPage = 10

	// MaxPerPage caps the page size a search request may ask for.
	MaxPerPage = 100
)

// Course mirrors a single Canvas course as known to this tool.
// One row per course ever touched; created on the first update and
// refreshed on subsequent ones.
type Course struct {
	ID           int64  `json:"id" meddler:"id,pk"`
	CanvasID     int64  `json:"canvasID" meddler:"canvas_id"`
	Name         string `json:"name" meddler:"name"`
	CanvasTermID int64  `json:"canvasTermID" meddler:"canvas_term_id,zeroisnull"`
}

// User mirrors a single Canvas user referenced by an extension.
type User struct {
	ID           int64  `json:"id" meddler:"id,pk"`
	CanvasID     int64  `json:"canvasID" meddler:"canvas_id"`
	SortableName string `json:"sortableName" meddler:"sortable_name"`
	SISID        string `json:"sisID" meddler:"sis_id,zeroisnull"`
}

// Quiz mirrors a Canvas quiz. Created when first observed, never deleted.
// Quiz, Course, and User rows are an eventually-stale cache of Canvas truth.
type Quiz struct {
	ID       int64  `json:"id" meddler:"id,pk"`
	CanvasID int64  `json:"canvasID" meddler:"canvas_id"`
	CourseID int64  `json:"courseID" meddler:"course_id"`
	Title    string `json:"title" meddler:"title"`
}

// Extension is a standing policy: the user gets Percent% time on every
// quiz in the course (100 is baseline, 200 is double time). Extensions are
// the sole local source of policy truth, pushed outward to Canvas and never
// pulled in from it. At most one active extension exists per (course, user)
// pair, enforced by lookup-then-upsert. An extension whose user can no
// longer be found in Canvas is deactivated, not deleted.
type Extension struct {
	ID       int64 `json:"id" meddler:"id,pk"`
	CourseID int64 `json:"courseID" meddler:"course_id"`
	UserID   int64 `json:"userID" meddler:"user_id"`
	Percent  int   `json:"percent" meddler:"percent"`
	Active   bool  `json:"active" meddler:"active"`
}
