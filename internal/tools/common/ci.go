package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type ciResult struct {
	Check     string    `json:"check"`
	Passed    bool      `json:"passed"`
	Details   []string  `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PrintCIResult writes one machine-readable line per check for CI pipelines.
func PrintCIResult(passed bool, check string, details []string, err error) {
	result := ciResult{
		Check:     check,
		Passed:    passed,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	out, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "ci result marshal failed: %v\n", marshalErr)
		return
	}
	fmt.Println(string(out))
}
