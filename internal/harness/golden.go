package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/flowaudit/flowaudit/internal/canonical"
)

// GoldenDir is where golden reports live, relative to the test's package.
const GoldenDir = "testdata/golden"

// MarshalReports renders the reports of a result as canonical JSON.
func MarshalReports(scenario string, result *Result) ([]byte, error) {
	return canonical.Marshal(result.Snapshot(scenario))
}

// RunWithGolden runs a scenario and compares its reports against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. A mismatch with the golden
// file fails t through goldie; failed expectations are left in the result
// for the caller to check.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalReports(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
