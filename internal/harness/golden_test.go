package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_MiniBasic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mini_basic.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalReports_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mini_basic.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalReports(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalReports(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"scenario":"mini_basic"`)
}
