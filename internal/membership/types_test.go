package membership

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleEntry_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(CycleEntry{Group: "CN=G"})
	require.NoError(t, err)
	assert.JSONEq(t, `["CN=G", []]`, string(b))

	b, err = json.Marshal(CycleEntry{Group: "CN=G", Targets: []string{"CN=A", "CN=B"}})
	require.NoError(t, err)
	assert.JSONEq(t, `["CN=G", ["CN=A", "CN=B"]]`, string(b))
}

func TestResult_Errors(t *testing.T) {
	res := newResult()
	assert.NotNil(t, res.Errors())

	res.register("CN=A")
	b := res.register("CN=B")
	res.register("CN=C")
	res.addBackEdge(b, "CN=A")

	assert.Equal(t, []CycleEntry{{Group: "CN=B", Targets: []string{"CN=A"}}}, res.Errors())
	assert.Len(t, res.Cycles, 3)
}

func TestGroup_RID(t *testing.T) {
	assert.Equal(t, "512", Group{SecurityID: "S-1-5-21-1-2-3-512"}.RID())
	assert.Equal(t, "", Group{}.RID())
}
