package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
	"github.com/spf13/cobra"

	. "github.com/Thetwam/quiz-extensions/types"
)

var Config struct {
	CanvasAPIURL   string `json:"canvasAPIURL"`
	CanvasAPIToken string `json:"canvasAPIToken"`
	SQLite3Path    string `json:"sqlite3Path"`
}

var root string

func main() {
	log.SetFlags(0)

	cmdQuizext := &cobra.Command{
		Use:   "quizext",
		Short: "Operator tools for the quiz extensions LTI tool",
	}

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of quizext",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("quizext " + CurrentVersion.Version)
		},
	}
	cmdQuizext.AddCommand(cmdVersion)

	cmdAddTerm := &cobra.Command{
		Use:   "addterm",
		Short: "record the Canvas enrollment term of every known course",
		Long: "Fetches each course this tool has touched from Canvas and records\n" +
			"its enrollment term, so reports can be filtered by term.",
		Run: CommandAddTerm,
	}
	cmdQuizext.AddCommand(cmdAddTerm)

	cmdReport := &cobra.Command{
		Use:   "report",
		Short: "print a usage report in markdown",
		Long: "Summarizes extension usage per course and per user, filtered by the\n" +
			"terms and user blacklist in report.cfg.",
		Run: CommandReport,
	}
	cmdReport.Flags().String("html", "", "render the report as HTML into this file")
	cmdQuizext.AddCommand(cmdReport)

	cmdQuizext.Execute()
}

func mustLoadConfig(cmd *cobra.Command) {
	root = os.Getenv("QUIZEXTROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("QUIZEXTROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "quizext")
	}

	Config.SQLite3Path = filepath.Join(root, "db", "quizext.db")

	configFile := filepath.Join(root, "config.json")
	if raw, err := ioutil.ReadFile(configFile); err != nil {
		log.Fatalf("failed to load config file %q: %v", configFile, err)
	} else if err := json.Unmarshal(raw, &Config); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}

	if Config.CanvasAPIURL == "" || Config.CanvasAPIToken == "" {
		log.Fatalf("cannot run with no Canvas API URL/token in the config file")
	}
}

func openDB() *sql.DB {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rw" +
			"&" + "_busy_timeout=10000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL"
	db, err := sql.Open("sqlite3", Config.SQLite3Path+options)
	if err != nil {
		log.Fatalf("error opening database %q: %v", Config.SQLite3Path, err)
	}
	return db
}
