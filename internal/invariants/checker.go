// Package invariants exercises cross-operation guarantees through the public
// HTTP API only. The checker treats the service as an external system; it
// never touches the store directly, so the same checks run in-process and
// against a deployed instance.
package invariants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// InvariantChecker runs blackbox checks against a pulseboard base URL.
type InvariantChecker struct {
	baseURL string
	client  *http.Client
}

// NewInvariantChecker creates a checker for the given base URL.
func NewInvariantChecker(baseURL string) *InvariantChecker {
	return &InvariantChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type personResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
	Username   string `json:"username"`
}

// TestIdentityUniquenessInvariant verifies that an external identity maps to
// exactly one person: a second create with the same externalId must be
// rejected and must leave the first person untouched.
func (ic *InvariantChecker) TestIdentityUniquenessInvariant(t *testing.T) {
	externalID := "inv-" + uuid.NewString()
	created := ic.createTestPerson(t, externalID, "original-name")

	t.Run("DuplicateExternalIDRejected", func(t *testing.T) {
		status, body := ic.post(t, "/api/v1/persons", map[string]interface{}{
			"externalId": externalID,
			"username":   "impostor-name",
		})
		require.Equal(t, http.StatusConflict, status, "duplicate identity must conflict: %s", body)
	})

	t.Run("FirstPersonUnchanged", func(t *testing.T) {
		var p personResponse
		ic.getJSON(t, fmt.Sprintf("/api/v1/persons/%d", created.ID), &p)
		assert.Equal(t, "original-name", p.Username)
		assert.Equal(t, externalID, p.ExternalID)
	})
}

// TestDeleteCascadeInvariant verifies that deleting a person removes every
// read surface keyed by that person. No orphaned timeline or stats view may
// survive the delete.
func (ic *InvariantChecker) TestDeleteCascadeInvariant(t *testing.T) {
	p := ic.createTestPerson(t, "inv-"+uuid.NewString(), "cascade-victim")

	// The person answers on every stats surface before the delete.
	for _, path := range ic.statsPaths(p.ID) {
		resp := ic.get(t, path)
		require.Equal(t, http.StatusOK, resp.StatusCode, "pre-delete GET %s", path)
		_ = resp.Body.Close()
	}

	req, err := http.NewRequest(http.MethodDelete, ic.baseURL+fmt.Sprintf("/api/v1/persons/%d", p.ID), nil)
	require.NoError(t, err)
	resp, err := ic.client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	t.Run("PersonGone", func(t *testing.T) {
		resp := ic.get(t, fmt.Sprintf("/api/v1/persons/%d", p.ID))
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("StatsSurfacesGone", func(t *testing.T) {
		for _, path := range ic.statsPaths(p.ID) {
			resp := ic.get(t, path)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, "post-delete GET %s", path)
			_ = resp.Body.Close()
		}
	})
}

// TestAggregationIdempotenceInvariant verifies that re-aggregating a day range
// rewrites the same summaries instead of accumulating new ones: the written
// count and the person's stats must not drift between identical runs.
func (ic *InvariantChecker) TestAggregationIdempotenceInvariant(t *testing.T) {
	p := ic.createTestPerson(t, "inv-"+uuid.NewString(), "aggregate-subject")

	day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	path := "/api/v1/activities/aggregate?from=" + day + "&to=" + day

	var first, second struct {
		SummariesWritten int `json:"summariesWritten"`
	}
	status, body := ic.post(t, path, nil)
	require.Equal(t, http.StatusOK, status, "first aggregate: %s", body)
	require.NoError(t, json.Unmarshal(body, &first))
	require.GreaterOrEqual(t, first.SummariesWritten, 1)

	statsBefore := ic.fetchAllTimeStats(t, p.ID)

	status, body = ic.post(t, path, nil)
	require.Equal(t, http.StatusOK, status, "second aggregate: %s", body)
	require.NoError(t, json.Unmarshal(body, &second))

	assert.Equal(t, first.SummariesWritten, second.SummariesWritten,
		"identical runs must write the same number of summaries")
	assert.Equal(t, statsBefore, ic.fetchAllTimeStats(t, p.ID),
		"re-aggregation must not change absorbed stats")
}

// TestUnlockIdempotenceInvariant verifies the stuck-flag recovery path: once a
// cache type has metadata, force-unlock always clears the updating flag and
// repeating it is harmless.
func (ic *InvariantChecker) TestUnlockIdempotenceInvariant(t *testing.T) {
	// Any refresh outcome (success, skip, or failure) leaves metadata behind.
	status, body := ic.post(t, "/api/v1/cache/refresh/projects", nil)
	require.Contains(t, []int{http.StatusOK, http.StatusInternalServerError}, status,
		"refresh must run the protocol: %s", body)

	for i := 0; i < 2; i++ {
		status, body = ic.post(t, "/api/v1/cache/unlock/projects", nil)
		require.Equal(t, http.StatusNoContent, status, "unlock #%d: %s", i+1, body)
	}

	var st struct {
		IsUpdating bool `json:"isUpdating"`
	}
	ic.getJSON(t, "/api/v1/cache/status/projects", &st)
	assert.False(t, st.IsUpdating, "flag must be clear after unlock")
}

// TestValidationRejectionInvariant verifies that out-of-range parameters are
// rejected outright, never silently clamped.
func (ic *InvariantChecker) TestValidationRejectionInvariant(t *testing.T) {
	p := ic.createTestPerson(t, "inv-"+uuid.NewString(), "bounds-subject")

	cases := []string{
		"/api/v1/persons?limit=0",
		"/api/v1/persons?limit=1001",
		"/api/v1/persons?offset=-1",
		fmt.Sprintf("/api/v1/activities/person/%d?limit=1001", p.ID),
		fmt.Sprintf("/api/v1/activities/person/%d/heatmap?days=0", p.ID),
		fmt.Sprintf("/api/v1/activities/person/%d/heatmap?days=731", p.ID),
		"/api/v1/activities/leaderboard?period=all_time&limit=101",
	}
	for _, path := range cases {
		resp := ic.get(t, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "GET %s", path)
		_ = resp.Body.Close()
	}
}

// RunAll executes every invariant check as a named subtest.
func (ic *InvariantChecker) RunAll(t *testing.T) {
	t.Run("IdentityUniqueness", ic.TestIdentityUniquenessInvariant)
	t.Run("DeleteCascade", ic.TestDeleteCascadeInvariant)
	t.Run("AggregationIdempotence", ic.TestAggregationIdempotenceInvariant)
	t.Run("UnlockIdempotence", ic.TestUnlockIdempotenceInvariant)
	t.Run("ValidationRejection", ic.TestValidationRejectionInvariant)
}

// --- helpers ---

func (ic *InvariantChecker) statsPaths(personID int64) []string {
	return []string{
		fmt.Sprintf("/api/v1/activities/person/%d", personID),
		fmt.Sprintf("/api/v1/activities/person/%d/stats?period=all_time", personID),
		fmt.Sprintf("/api/v1/activities/person/%d/heatmap?days=30", personID),
		fmt.Sprintf("/api/v1/activities/person/%d/streak", personID),
	}
}

func (ic *InvariantChecker) createTestPerson(t *testing.T, externalID, username string) personResponse {
	t.Helper()
	status, body := ic.post(t, "/api/v1/persons", map[string]interface{}{
		"externalId": externalID,
		"username":   username,
	})
	require.Equal(t, http.StatusCreated, status, "create person: %s", body)
	var p personResponse
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func (ic *InvariantChecker) fetchAllTimeStats(t *testing.T, personID int64) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	ic.getJSON(t, fmt.Sprintf("/api/v1/activities/person/%d/stats?period=all_time", personID), &out)
	return out
}

func (ic *InvariantChecker) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ic.client.Get(ic.baseURL + path)
	require.NoError(t, err)
	return resp
}

func (ic *InvariantChecker) getJSON(t *testing.T, path string, out interface{}) {
	t.Helper()
	resp := ic.get(t, path)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (ic *InvariantChecker) post(t *testing.T, path string, payload interface{}) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp, err := ic.client.Post(ic.baseURL+path, "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}
