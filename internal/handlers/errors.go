package handlers

import "strings"

// reason returns the detail of an error wrapped as "<sentinel>: detail".
func reason(err, sentinel error) string {
	if detail, ok := strings.CutPrefix(err.Error(), sentinel.Error()+": "); ok {
		return detail
	}
	return err.Error()
}
