// Package manifest implements the volume manifest text format (C8): one
// block per volume naming its index range and content hashes, plus the
// coverage query that lets a restore select only the volumes it needs.
package manifest

import (
	"bufio"
	"crypto/md5"  //nolint:gosec // named explicitly by the wire format, not a security use
	"crypto/sha1" //nolint:gosec // named explicitly by the wire format, not a security use
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/vaultik/vaultik/internal/pathentry"
)

// HashSHA1 and HashMD5 are the two hash-name tokens the wire format
// recognizes in "Hash NAME hex" lines.
const (
	HashSHA1 = "SHA1"
	HashMD5  = "MD5"
)

// VolumeInfo is one volume's entry in a manifest: the index range it
// covers and the hashes of the volume file's own (encrypted) bytes.
type VolumeInfo struct {
	Volume     int
	StartIndex pathentry.Index
	EndIndex   pathentry.Index
	Hashes     map[string]string // hash name -> lowercase hex digest
}

// Contains implements §4.6's coverage predicate. In recursive mode (the
// default for directory-prefix restores) StartIndex is truncated to
// prefix's length before comparison, so a volume whose range starts
// partway through a directory still counts as covering that directory's
// prefix; in non-recursive mode both bounds are compared at full width.
func (v *VolumeInfo) Contains(prefix pathentry.Index, recursive bool) bool {
	start := v.StartIndex
	if recursive && len(start) > len(prefix) {
		start = start[:len(prefix)]
	}
	return start.Compare(prefix) <= 0 && prefix.Compare(v.EndIndex) <= 0
}

// Equal reports whether v and other describe the same volume.
func (v *VolumeInfo) Equal(other *VolumeInfo) bool {
	if v.Volume != other.Volume || !v.StartIndex.Equal(other.StartIndex) || !v.EndIndex.Equal(other.EndIndex) {
		return false
	}
	if len(v.Hashes) != len(other.Hashes) {
		return false
	}
	for name, hex := range v.Hashes {
		if other.Hashes[name] != hex {
			return false
		}
	}
	return true
}

// Manifest is the full set of VolumeInfo blocks produced by one backup
// session.
type Manifest struct {
	Volumes map[int]*VolumeInfo
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{Volumes: make(map[int]*VolumeInfo)}
}

// AddVolume registers v, or returns an error if its volume number is
// already present — volume numbers must be unique within a manifest.
func (m *Manifest) AddVolume(v *VolumeInfo) error {
	if _, exists := m.Volumes[v.Volume]; exists {
		return fmt.Errorf("manifest: duplicate volume number %d", v.Volume)
	}
	m.Volumes[v.Volume] = v
	return nil
}

// Contains reports whether any volume in m covers prefix.
func (m *Manifest) Contains(prefix pathentry.Index, recursive bool) bool {
	for _, v := range m.Volumes {
		if v.Contains(prefix, recursive) {
			return true
		}
	}
	return false
}

// Equal reports whether m and other hold the same volume numbers with
// field-equal VolumeInfos.
func (m *Manifest) Equal(other *Manifest) bool {
	if len(m.Volumes) != len(other.Volumes) {
		return false
	}
	for n, v := range m.Volumes {
		ov, ok := other.Volumes[n]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// HashFile computes the SHA1 and MD5 digests of r's content, both named
// explicitly by the wire format (crypto/sha1 and crypto/md5 are the
// standard library's implementations of exactly those two algorithms;
// there is no substituting a third-party hash here without breaking the
// format).
func HashFile(r io.Reader) (map[string]string, error) {
	sha := sha1.New()
	md := md5.New()
	if _, err := io.Copy(io.MultiWriter(sha, md), r); err != nil {
		return nil, fmt.Errorf("manifest: hashing: %w", err)
	}
	return map[string]string{
		HashSHA1: fmt.Sprintf("%x", sha.Sum(nil)),
		HashMD5:  fmt.Sprintf("%x", md.Sum(nil)),
	}, nil
}

// Serialize renders m in the §4.6 text format, volumes in ascending order.
func (m *Manifest) Serialize(w io.Writer) error {
	nums := make([]int, 0, len(m.Volumes))
	for n := range m.Volumes {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	bw := bufio.NewWriter(w)
	for _, n := range nums {
		v := m.Volumes[n]
		fmt.Fprintf(bw, "Volume %d:\n", v.Volume)
		fmt.Fprintf(bw, "    StartingPath   %s\n", encodeIndex(v.StartIndex))
		fmt.Fprintf(bw, "    EndingPath     %s\n", encodeIndex(v.EndIndex))

		hashNames := make([]string, 0, len(v.Hashes))
		for name := range v.Hashes {
			hashNames = append(hashNames, name)
		}
		sort.Strings(hashNames)
		for _, name := range hashNames {
			fmt.Fprintf(bw, "    Hash %s %s\n", name, v.Hashes[name])
		}
	}
	return bw.Flush()
}

// Parse decodes a manifest in the §4.6 text format.
func Parse(r io.Reader) (*Manifest, error) {
	m := New()
	scanner := bufio.NewScanner(r)

	var cur *VolumeInfo
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch {
		case strings.HasPrefix(line, "Volume ") && strings.HasSuffix(line, ":"):
			n, err := strconv.Atoi(strings.TrimSuffix(fields[1], ":"))
			if err != nil {
				return nil, fmt.Errorf("manifest: malformed volume header %q: %w", line, err)
			}
			cur = &VolumeInfo{Volume: n, Hashes: make(map[string]string)}
			if err := m.AddVolume(cur); err != nil {
				return nil, err
			}

		case fields[0] == "StartingPath":
			if cur == nil || len(fields) < 2 {
				return nil, fmt.Errorf("manifest: StartingPath outside a volume block: %q", line)
			}
			idx, err := decodeIndex(fields[1])
			if err != nil {
				return nil, err
			}
			cur.StartIndex = idx

		case fields[0] == "EndingPath":
			if cur == nil || len(fields) < 2 {
				return nil, fmt.Errorf("manifest: EndingPath outside a volume block: %q", line)
			}
			idx, err := decodeIndex(fields[1])
			if err != nil {
				return nil, err
			}
			cur.EndIndex = idx

		case fields[0] == "Hash":
			if cur == nil || len(fields) < 3 {
				return nil, fmt.Errorf("manifest: malformed Hash line: %q", line)
			}
			cur.Hashes[fields[1]] = fields[2]

		default:
			return nil, fmt.Errorf("manifest: unrecognized line: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: reading: %w", err)
	}
	return m, nil
}

// encodeIndex renders idx as the wire format's index token: unquoted when
// it contains no whitespace or \"' characters, otherwise double-quoted with
// every such character escaped as \xHH.
func encodeIndex(idx pathentry.Index) string {
	s := idx.Path()

	needsQuoting := false
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			fmt.Fprintf(&b, `\x%02x`, c)
		} else {
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// needsEscape reports whether c must be \xHH-escaped inside a quoted index
// token. Every whitespace byte is included, not just space and tab: a raw
// '\n' (or '\r', '\f', '\v') written unquoted into a StartingPath/EndingPath
// line would split Parse's line-oriented bufio.Scanner read in the middle
// of an index. Control bytes and anything outside the printable ASCII
// range are escaped too, so the manifest text stays single-line and
// 7-bit-clean regardless of what byte values the source path contains.
func needsEscape(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v', '\\', '"', '\'':
		return true
	default:
		return c < 0x20 || c >= 0x7f
	}
}

// decodeIndex is encodeIndex's inverse.
func decodeIndex(tok string) (pathentry.Index, error) {
	if !strings.HasPrefix(tok, `"`) {
		return pathentry.ParseIndexPath(tok), nil
	}
	if len(tok) < 2 || !strings.HasSuffix(tok, `"`) {
		return nil, fmt.Errorf("manifest: malformed quoted index %q", tok)
	}
	inner := tok[1 : len(tok)-1]

	var b strings.Builder
	for i := 0; i < len(inner); {
		if inner[i] == '\\' && i+3 < len(inner) && inner[i+1] == 'x' {
			n, err := strconv.ParseUint(inner[i+2:i+4], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("manifest: malformed escape in %q: %w", tok, err)
			}
			b.WriteByte(byte(n))
			i += 4
			continue
		}
		b.WriteByte(inner[i])
		i++
	}
	return pathentry.ParseIndexPath(b.String()), nil
}
