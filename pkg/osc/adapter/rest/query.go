package rest

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

const (
	moduleName    = "http"
	dateLayout    = "2006-01-02"
	userHeader    = "X-User"
	anonymousUser = "anonymous"
)

// user returns the caller identity forwarded by the fronting proxy.
func user(c *gin.Context) string {
	if u := strings.TrimSpace(c.GetHeader(userHeader)); u != "" {
		return u
	}
	return anonymousUser
}

// parseJobFilter reads status, connection_id, start_date, end_date and keyword.
// status may repeat or be comma separated.
func parseJobFilter(c *gin.Context) (repository.JobFilter, error) {
	var f repository.JobFilter
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			st, err := model.ParseStatus(s)
			if err != nil {
				return f, exception.NewValidationErrorf(moduleName, "status", "unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.ConnectionID = c.Query("connection_id")
	f.Keyword = strings.TrimSpace(c.Query("keyword"))

	var err error
	if f.CreatedFrom, err = parseTime(c.Query("start_date"), "start_date", false); err != nil {
		return f, err
	}
	if f.CreatedTo, err = parseTime(c.Query("end_date"), "end_date", true); err != nil {
		return f, err
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return f, exception.NewValidationError(moduleName, "end_date", "end_date is before start_date")
	}
	return f, nil
}

func parseStatsFilter(c *gin.Context) (repository.StatsFilter, error) {
	jf, err := parseJobFilter(c)
	if err != nil {
		return repository.StatsFilter{}, err
	}
	return repository.StatsFilter{ConnectionID: jf.ConnectionID, CreatedFrom: jf.CreatedFrom, CreatedTo: jf.CreatedTo}, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the whole day.
func parseTime(v, field string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, exception.NewValidationErrorf(moduleName, field, "%s must be YYYY-MM-DD or RFC 3339", field)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// parsePage clamps page and size the way the store does. Bad numbers fall back to defaults.
func parsePage(c *gin.Context) repository.Page {
	p := repository.Page{}
	if n, err := strconv.Atoi(c.Query("page")); err == nil {
		p.Number = n
	}
	if n, err := strconv.Atoi(c.Query("size")); err == nil {
		p.Size = n
	}
	return p.Normalize()
}

func parseInt64(c *gin.Context, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, exception.NewValidationErrorf(moduleName, name, "%s must be a non-negative integer", name)
	}
	return n, nil
}
