// Package ids mints correlation identifiers for runs and iterations.
package ids

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	once sync.Once
	node *snowflake.Node
)

// Init prepares the monotonic iteration-ID generator. Safe to call more
// than once; only the first nodeID takes effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewRunID returns a fresh UUID identifying one orchestrator run, used to
// tag every log line emitted during that run.
func NewRunID() string {
	return uuid.New().String()
}

// NewIterationID returns a monotonically increasing identifier for one
// iteration within a run. Init must have been called first.
func NewIterationID() (int64, error) {
	if node == nil {
		return 0, fmt.Errorf("ids: Init not called")
	}
	return node.Generate().Int64(), nil
}
