package main

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"

	"github.com/Thetwam/quiz-extensions/canvas"
	. "github.com/Thetwam/quiz-extensions/types"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	Hostname       string `json:"hostname"`       // Hostname for the site: "your.host.goes.here"
	CanvasAPIURL   string `json:"canvasAPIURL"`   // Canvas API root: "https://example.instructure.com/api/v1"
	CanvasAPIToken string `json:"canvasAPIToken"` // Canvas API access token for the tool's service account
	LTIConsumerKey string `json:"ltiConsumerKey"` // LTI consumer key given to Canvas
	LTISecret      string `json:"ltiSecret"`      // LTI shared secret. Must match that given to Canvas: `head -c 32 /dev/urandom | base64`
	SessionSecret  string `json:"sessionSecret"`  // Random string used to sign cookie sessions: `head -c 32 /dev/urandom | base64`

	// parameters where the default is usually sufficient
	ToolName        string `json:"toolName"`        // LTI human readable name: default "Quiz Extensions"
	ToolID          string `json:"toolID"`          // LTI unique ID: default "quizext"
	ToolDescription string `json:"toolDescription"` // LTI description
	SQLite3Path     string `json:"sqlite3Path"`     // path to the sqlite database file: default "$QUIZEXTROOT/db/quizext.db"
}

var root string
var port string

func main() {
	log.SetFlags(log.Lshortfile)

	root = os.Getenv("QUIZEXTROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("QUIZEXTROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "quizext")
	}
	log.Printf("QUIZEXTROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	log.Printf("port set to %s", port)

	// parse command line
	var useConfig bool
	flag.BoolVar(&useConfig, "config", false, "Use config.json for config data (for testing)")
	flag.Parse()

	// set config defaults
	Config.ToolName = "Quiz Extensions"
	Config.ToolID = "quizext"
	Config.ToolDescription = "Apply extended quiz time for students"
	Config.SQLite3Path = filepath.Join(root, "db", "quizext.db")

	// load config
	if useConfig {
		configFile := filepath.Join(root, "config.json")
		if raw, err := ioutil.ReadFile(configFile); err != nil {
			log.Fatalf("failed to load config file %q: %v", configFile, err)
		} else if err := json.Unmarshal(raw, &Config); err != nil {
			log.Fatalf("failed to parse config file: %v", err)
		}
	} else {
		Config.Hostname = os.Getenv("QUIZEXT_HOSTNAME")
		Config.CanvasAPIURL = os.Getenv("QUIZEXT_CANVASAPIURL")
		Config.CanvasAPIToken = os.Getenv("QUIZEXT_CANVASAPITOKEN")
		Config.LTIConsumerKey = os.Getenv("QUIZEXT_LTICONSUMERKEY")
		Config.LTISecret = os.Getenv("QUIZEXT_LTISECRET")
		Config.SessionSecret = os.Getenv("QUIZEXT_SESSIONSECRET")
	}
	// note: the LTI secret is used exactly as Canvas received it
	Config.SessionSecret = unBase64(Config.SessionSecret)

	if Config.Hostname == "" {
		log.Fatalf("cannot run with no hostname in the config file")
	}
	if Config.CanvasAPIURL == "" || Config.CanvasAPIToken == "" {
		log.Fatalf("cannot run with no Canvas API URL/token in the config file")
	}
	if Config.LTIConsumerKey == "" || Config.LTISecret == "" {
		log.Fatalf("cannot run with no LTI consumer key/secret in the config file")
	}
	if Config.SessionSecret == "" {
		log.Fatalf("cannot run with no sessionSecret in the config file")
	}

	// set up martini
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "", log.Lshortfile))
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	counter := func(w http.ResponseWriter, r *http.Request, c martini.Context) {
		start := time.Now()
		c.Next()
		now := time.Now()
		seconds := now.Sub(start).Seconds()
		hits++
		hitsCounter.Add(1)
		if seconds > slowest {
			slowest = seconds
			slowestCounter.Set(seconds)
			slowestTimeCounter.Set(now.Format(time.RFC1123))
			slowestPathCounter.Set(r.URL.Path)
		}
		totalSeconds += seconds
		totalSecondsCounter.Add(seconds)
		averageSecondsCounter.Set(totalSeconds / float64(hits))
		rw := w.(martini.ResponseWriter)
		if rw.Status() >= 400 {
			errorsCounter.Add(1)
		}
		goroutineCounter.Set(int64(runtime.NumGoroutine()))
	}

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{
		Directory:  filepath.Join(root, "templates"),
		Extensions: []string{".tmpl", ".html"},
	}))

	// set up the database and the Canvas client
	db := setupDB(Config.SQLite3Path)
	var dbMutex sync.Mutex
	m.Map(canvas.NewClient(Config.CanvasAPIURL, Config.CanvasAPIToken))

	// martini service: wrap handler in a transaction
	withTx := func(c martini.Context, r *http.Request, w http.ResponseWriter) {
		// note: one request = one transaction; the mutex serializes
		// store access so concurrent updates to the same extension
		// row cannot clobber each other
		dbMutex.Lock()
		defer dbMutex.Unlock()

		start := time.Now()
		defer func() {
			elapsed := time.Since(start)
			if elapsed > 500*time.Millisecond {
				switch {
				case elapsed < time.Second:
					elapsed -= elapsed % time.Millisecond
				case elapsed < 10*time.Second:
					elapsed -= elapsed % (10 * time.Millisecond)
				default:
					elapsed -= elapsed % (100 * time.Millisecond)
				}
				log.Printf("transaction took %v, req was %s", elapsed, r.RequestURI)
			}
		}()
		tx, err := db.Begin()
		if err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error starting transaction: %v", err)
			return
		}

		// pass it on to the main handler
		c.Map(tx)
		c.Next()

		// was it a successful result?
		rw := w.(martini.ResponseWriter)
		if rw.Status() < http.StatusBadRequest {
			if err := tx.Commit(); err != nil {
				loggedHTTPErrorf(w, http.StatusInternalServerError, "db error committing transaction: %v", err)
				return
			}
		} else {
			if err := tx.Rollback(); err != nil {
				loggedHTTPErrorf(w, http.StatusInternalServerError, "db error rolling back transaction: %v", err)
				return
			}
		}
	}

	// index
	r.Get("/", counter, Index)
	r.Post("/", counter, Index)

	// version
	r.Get("/version", counter, func(w http.ResponseWriter, render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// stats
	r.Get("/stats", counter, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, "{\n")
		first := true
		expvar.Do(func(kv expvar.KeyValue) {
			if !first {
				fmt.Fprintf(w, ",\n")
			}
			first = false
			fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
		})
		fmt.Fprintf(w, "\n}\n")
	})

	// LTI
	r.Get("/lti/config.xml", counter, GetConfigXML)
	r.Post("/launch", counter, binding.Bind(LTIRequest{}), checkOAuthSignature, LtiLaunch)

	// quiz extension management
	r.Get("/quiz/:course_id", counter, QuizPage)
	r.Post("/update/:course_id", counter, withTx, binding.Json(UpdateRequest{}), PostUpdate)
	r.Post("/refresh/:course_id", counter, withTx, PostRefresh)
	r.Get("/missing_quizzes/:course_id", counter, withTx, GetMissingQuizzes)
	r.Get("/filter/:course_id", counter, FilterStudents)

	// note: this will work behind a TLS proxy or for debugging with some calls
	// but LTI will refuse to connect to an insecure host
	log.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

func setupDB(path string) *sql.DB {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rwc" +
			"&" + "_busy_timeout=10000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}
	if err := createTables(db); err != nil {
		log.Fatalf("error creating database tables: %v", err)
	}

	return db
}

func createTables(db *sql.DB) error {
	script := `
CREATE TABLE IF NOT EXISTS courses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    canvas_id INTEGER NOT NULL UNIQUE,
    name TEXT NOT NULL,
    canvas_term_id INTEGER
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    canvas_id INTEGER NOT NULL UNIQUE,
    sortable_name TEXT NOT NULL,
    sis_id TEXT
);

CREATE TABLE IF NOT EXISTS quizzes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    canvas_id INTEGER NOT NULL,
    course_id INTEGER NOT NULL REFERENCES courses (id),
    title TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS quizzes_canvas_id ON quizzes (canvas_id);

CREATE TABLE IF NOT EXISTS extensions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    course_id INTEGER NOT NULL REFERENCES courses (id),
    user_id INTEGER NOT NULL REFERENCES users (id),
    percent INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS extensions_course_id ON extensions (course_id);
`
	_, err := db.Exec(script)
	return err
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}

	return id, nil
}

func logPrefix() string {
	prefix := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		prefix = fmt.Sprintf("%s:%d: ", file, line)
	}
	return prefix
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

var (
	hits                  int
	hitsCounter           = expvar.NewInt("hits")
	slowest               float64
	slowestCounter        = expvar.NewFloat("slowestSeconds")
	slowestPathCounter    = expvar.NewString("slowestPath")
	slowestTimeCounter    = expvar.NewString("slowestTime")
	totalSeconds          float64
	totalSecondsCounter   = expvar.NewFloat("totalSeconds")
	averageSecondsCounter = expvar.NewFloat("averageSeconds")
	errorsCounter         = expvar.NewInt("errors")
	goroutineCounter      = expvar.NewInt("goroutines")
)
