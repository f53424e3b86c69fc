// Package loader reads training data from files: DDL scripts, documentation
// and YAML files of question/SQL pairs.
package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/askdb/internal/agent"
	"github.com/ziadkadry99/askdb/internal/logging"
	"github.com/ziadkadry99/askdb/internal/progress"
)

// Item is one training request and the file it came from.
type Item struct {
	Source  string
	Request agent.TrainRequest
}

// Pair is one entry of a pairs file.
type Pair struct {
	Question string `yaml:"question"`
	SQL      string `yaml:"sql"`
}

// LoadDDL reads every file matched by patterns and yields one item per
// statement.
func LoadDDL(patterns, exclude []string) ([]Item, error) {
	files, err := Expand(patterns, exclude, 0)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", path, err)
		}
		for _, stmt := range SplitStatements(string(data)) {
			items = append(items, Item{Source: path, Request: agent.TrainRequest{DDL: stmt}})
		}
	}
	return items, nil
}

// LoadDocs reads every file matched by patterns as one documentation item.
// Empty files are skipped.
func LoadDocs(patterns, exclude []string) ([]Item, error) {
	files, err := Expand(patterns, exclude, 0)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", path, err)
		}
		doc := strings.TrimSpace(string(data))
		if doc == "" {
			continue
		}
		items = append(items, Item{Source: path, Request: agent.TrainRequest{Documentation: doc}})
	}
	return items, nil
}

// LoadPairs reads a YAML list of {question, sql} entries. Entries without
// SQL are rejected so a typo does not silently drop an example.
func LoadPairs(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	var pairs []Pair
	if err := yaml.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("loader: parse %s: %w", path, err)
	}

	items := make([]Item, 0, len(pairs))
	for i, p := range pairs {
		if strings.TrimSpace(p.SQL) == "" {
			return nil, fmt.Errorf("loader: %s entry %d has no sql", path, i+1)
		}
		items = append(items, Item{
			Source:  fmt.Sprintf("%s#%d", path, i+1),
			Request: agent.TrainRequest{Question: p.Question, SQL: strings.TrimSpace(p.SQL)},
		})
	}
	return items, nil
}

// SplitStatements splits a SQL script on semicolons outside quotes and
// comments. Statements that are empty or only comments are dropped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   rune
		prev    rune
		line    bool // inside a -- comment
		block   bool // inside a /* */ comment
		code    bool // current statement has non-comment text
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && code {
			stmts = append(stmts, s)
		}
		current.Reset()
		code = false
	}

	for _, ch := range script {
		switch {
		case line:
			current.WriteRune(ch)
			if ch == '\n' {
				line = false
			}
		case block:
			current.WriteRune(ch)
			if prev == '*' && ch == '/' {
				block = false
				ch = 0
			}
		case quote != 0:
			current.WriteRune(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '-' && prev == '-':
			current.WriteRune(ch)
			line = true
		case ch == '*' && prev == '/':
			current.WriteRune(ch)
			block = true
			ch = 0
		case ch == ';':
			flush()
		default:
			current.WriteRune(ch)
			switch ch {
			case '\'', '"', '`':
				quote = ch
				code = true
			case '-', '/', ' ', '\t', '\r', '\n':
			default:
				code = true
			}
		}
		prev = ch
	}
	flush()
	return stmts
}

// Trainer stores training requests. *agent.Engine implements it.
type Trainer interface {
	Train(ctx context.Context, req agent.TrainRequest) (string, error)
}

// Result counts what Apply stored.
type Result struct {
	Added  int
	Failed int
}

// Apply trains every item, reporting progress. A failing item is logged and
// counted; Apply only stops early when ctx is cancelled.
func Apply(ctx context.Context, t Trainer, items []Item, rep progress.Reporter, logger *zap.Logger) (Result, error) {
	logger = logging.OrNop(logger).Named("loader")
	if rep == nil {
		rep = progress.Nop{}
	}

	var res Result
	rep.Start(len(items))
	defer rep.Finish()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := t.Train(ctx, item.Request); err != nil {
			res.Failed++
			logger.Warn("training item rejected", zap.String("source", item.Source), zap.Error(err))
		} else {
			res.Added++
		}
		rep.Update(i+1, item.Source)
	}
	return res, nil
}
