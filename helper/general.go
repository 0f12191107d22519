package helper

import (
	"mime"
	"strings"
)

/* General Filter Function for the array.
   Based on the test function value it would
   filter the element from the array.
*/
func Filter[T any](ss []T, test func(T) bool) (ret []T) {
	for _, s := range ss {
		if test(s) {
			ret = append(ret, s)
		}
	}
	return
}

/* NotBlank is a Filter test dropping empty strings
 */
func NotBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}

/* Attachment header value for a download named filename
 */
func Attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
