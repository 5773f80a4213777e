package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoSuchJob    = errors.New("no such job")
	ErrAmbiguous    = errors.New("ambiguous job spec")
	ErrNoCurrentJob = errors.New("no current job")
)

// Resolve finds the job named by spec: %N, %+, %%, %-, %prefix or
// %?substring. A bare number is a pid; when numberIsJob is set a job with
// that number is preferred.
func (c *Controller) Resolve(spec string, numberIsJob bool) (*Job, error) {
	t := c.table

	if !strings.HasPrefix(spec, "%") {
		n, err := strconv.Atoi(spec)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
		}
		var j *Job
		if numberIsJob {
			j = t.Get(n)
		}
		if j == nil {
			j = t.ByPid(n)
		}
		if j == nil {
			return nil, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
		}
		return j, nil
	}

	body := spec[1:]
	switch body {
	case "", "+", "%":
		if j := t.Current(); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("%s: %w", spec, ErrNoCurrentJob)
	case "-":
		if j := t.Previous(); j != nil {
			return j, nil
		}
		if j := t.Current(); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("%s: %w", spec, ErrNoCurrentJob)
	}

	if n, err := strconv.Atoi(body); err == nil {
		if j := t.Get(n); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
	}

	match := func(j *Job) bool { return strings.HasPrefix(j.Text, body) }
	if strings.HasPrefix(body, "?") {
		sub := body[1:]
		match = func(j *Job) bool { return strings.Contains(j.Text, sub) }
	}

	var found *Job
	for _, j := range t.List() {
		if !match(j) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%s: %w", spec, ErrAmbiguous)
		}
		found = j
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
	}
	return found, nil
}
