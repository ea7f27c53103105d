package mcprouter

import "strconv"

// Paginate returns the page of all that starts at the offset encoded in
// cursor, together with the cursor for the following page ("" on the last
// page). A pageSize of zero or less disables pagination. Cursors are opaque
// to clients but are plain decimal offsets here; an unparseable or out of
// range cursor fails with ErrInvalidParams.
func Paginate[T any](all []T, pageSize int, cursor string) ([]T, string, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(all) {
			return nil, "", InvalidParamsf("invalid cursor %q", cursor)
		}
		start = n
	}
	if pageSize <= 0 {
		return all[start:], "", nil
	}
	end := start + pageSize
	if end >= len(all) {
		return all[start:], "", nil
	}
	return all[start:end], strconv.Itoa(end), nil
}
