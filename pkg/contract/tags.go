package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// TagKey is the struct tag key read by Discover.
const TagKey = "refgraph"

// ParseTag parses `<tag>[,name=x][,packed][,required][,append][,dynamic][,ref|noref][,zigzag|fixed]`
// into a member without access information.
func ParseTag(s string) (Member, error) {
	parts := strings.Split(s, ",")
	var m Member
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return m, fmt.Errorf("%w: field number %q", ErrInvalid, parts[0])
	}
	m.Tag = n
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasPrefix(p, "name="):
			m.Name = strings.TrimPrefix(p, "name=")
		case p == "packed":
			m.Packed = true
		case p == "required":
			m.Required = true
		case p == "append":
			m.Append = true
		case p == "dynamic":
			m.DynamicType = true
		case p == "ref":
			m.Ref = AsReference
		case p == "noref":
			m.Ref = NotAsReference
		case p == "zigzag":
			m.Format = FormatZigZag
		case p == "fixed":
			m.Format = FormatFixed
		default:
			return m, fmt.Errorf("%w: unknown option %q", ErrInvalid, p)
		}
	}
	return m, nil
}
