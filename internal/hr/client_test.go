package hr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/timeval"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	var buf bytes.Buffer
	return NewClient(srv.URL, srv.Client(), newTestLogger(&buf))
}

func TestClient_GetMe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/users/me", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":42,"companies":[{"id":1001,"name":"Example","role":"self_only","external_cid":3000,"employee_id":501,"display_name":"山田 太郎"}]}`))
	})

	me, err := c.GetMe(context.Background(), "access")
	require.NoError(t, err)
	assert.Equal(t, int64(42), me.ID)
	require.Len(t, me.Companies, 1)
	assert.Equal(t, "Example", me.Companies[0].Name)
	require.NotNil(t, me.Companies[0].EmployeeID)
	assert.Equal(t, int64(501), *me.Companies[0].EmployeeID)
}

func TestClient_GetWorkRecordSummary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/employees/501/work_record_summaries/2024/7", r.URL.Path)
		assert.Equal(t, "1001", r.URL.Query().Get("company_id"))
		assert.Equal(t, "true", r.URL.Query().Get("work_records"))
		_, _ = w.Write([]byte(`{"year":2024,"month":7,"work_records":[
			{"date":"2024-06-03","clock_in_at":"2024-06-03T09:00:00.000+09:00","clock_out_at":"2024-06-03T18:00:00.000+09:00","break_records":[]},
			{"date":"2024-06-04","clock_in_at":null,"clock_out_at":null,"break_records":[]}
		]}`))
	})

	summary, err := c.GetWorkRecordSummary(context.Background(), 501, 2024, 7, 1001, "access")
	require.NoError(t, err)
	require.Len(t, summary.WorkRecords, 2)
	require.NotNil(t, summary.WorkRecords[0].ClockInAt)
	assert.Nil(t, summary.WorkRecords[1].ClockInAt)
}

func TestClient_PutWorkRecord(t *testing.T) {
	var got WorkRecordPayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/employees/501/work_records/2024-06-03", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	})

	record := BuildWorkRecords([]timeval.DateOnly{timeval.MustDateOnly(2024, 6, 3)}, standardHours)[0]
	err := c.PutWorkRecord(context.Background(), 501, record.WorkDay, "access", NewWorkRecordPayload(1001, record))
	require.NoError(t, err)

	assert.Equal(t, int64(1001), got.CompanyID)
	assert.Equal(t, "2024-06-03 09:00", got.ClockInAt)
	assert.Equal(t, "2024-06-03 18:00", got.ClockOutAt)
	assert.Equal(t, []BreakRecordPayload{{ClockInAt: "2024-06-03 12:00", ClockOutAt: "2024-06-03 13:00"}}, got.BreakRecords)
}

func TestClient_DeleteWorkRecord_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "1001", r.URL.Query().Get("company_id"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	})

	err := c.DeleteWorkRecord(context.Background(), 501, timeval.MustDateOnly(2024, 6, 3), 1001, "access")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsServerError(err))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, `{"message":"not found"}`, se.Body)
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.DeleteWorkRecord(context.Background(), 501, timeval.MustDateOnly(2024, 6, 3), 1001, "access")

	assert.True(t, IsServerError(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewWorkRecordPayload_NoBreaks(t *testing.T) {
	record := model.WorkRecord{
		WorkDay:    timeval.MustDateOnly(2024, 1, 5),
		ClockInAt:  timeval.MustTimeOnly(8, 30),
		ClockOutAt: timeval.MustTimeOnly(17, 15),
	}

	p := NewWorkRecordPayload(7, record)

	assert.Equal(t, "2024-01-05 08:30", p.ClockInAt)
	assert.Equal(t, "2024-01-05 17:15", p.ClockOutAt)
	assert.NotNil(t, p.BreakRecords)
	assert.Empty(t, p.BreakRecords)
}
