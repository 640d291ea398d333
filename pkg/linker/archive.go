package linker

import (
	"fmt"
	"strconv"
	"strings"

	"gold/pkg/utils"
)

const archiveMagic = "!<arch>\n"

type arHeader struct {
	Name [16]byte
	Date [12]byte
	UID  [6]byte
	GID  [6]byte
	Mode [8]byte
	Size [10]byte
	Fmag [2]byte
}

const arHeaderSize = 60

func (h *arHeader) size() (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(h.Size[:])))
}

func (h *arHeader) isSymtab() bool {
	name := string(h.Name[:])
	return strings.HasPrefix(name, "/ ") || strings.HasPrefix(name, "__.SYMDEF")
}

func (h *arHeader) isStrtab() bool {
	return strings.HasPrefix(string(h.Name[:]), "// ")
}

func (h *arHeader) name(strTab []byte) string {
	name := string(h.Name[:])

	// Long names live in the string table, referenced as "/<offset>".
	if strings.HasPrefix(name, "/") {
		start, err := strconv.Atoi(strings.TrimSpace(name[1:]))
		if err != nil || start >= len(strTab) {
			return ""
		}
		end := strings.Index(string(strTab[start:]), "/\n")
		if end < 0 {
			return ""
		}
		return string(strTab[start : start+end])
	}

	if end := strings.Index(name, "/"); end >= 0 {
		return name[:end]
	}
	return strings.TrimSpace(name)
}

// ArchiveMember is one object extracted from a static archive.
type ArchiveMember struct {
	Name     string
	Contents []byte
}

// ReadArchiveMembers walks a "!<arch>" file and returns its object members.
// Symbol index and long-name string table members are skipped. Member data
// is 2-byte aligned; odd-sized members are padded with "\n".
func ReadArchiveMembers(path string, contents []byte) ([]ArchiveMember, error) {
	if GetFileType(contents) != FileTypeArchive {
		return nil, fmt.Errorf("%w: %s: not an archive", ErrBadObjectFile, path)
	}

	pos := len(archiveMagic)

	var strTab []byte
	var members []ArchiveMember
	for len(contents)-pos > 1 {
		if pos%2 == 1 {
			pos++
		}

		if pos+arHeaderSize > len(contents) {
			return nil, fmt.Errorf("%w: %s: truncated member header", ErrBadObjectFile, path)
		}
		hdr, err := utils.Read[arHeader](contents[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadObjectFile, path, err)
		}

		size, err := hdr.size()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad member size", ErrBadObjectFile, path)
		}

		dataStart := pos + arHeaderSize
		pos = dataStart + size
		if pos > len(contents) {
			return nil, fmt.Errorf("%w: %s: truncated member data", ErrBadObjectFile, path)
		}
		data := contents[dataStart:pos]

		if hdr.isSymtab() {
			continue
		}
		if hdr.isStrtab() {
			strTab = data
			continue
		}

		members = append(members, ArchiveMember{
			Name:     hdr.name(strTab),
			Contents: data,
		})
	}

	// Zero-size members carry no object; drop them before handing the
	// set to the parser.
	members = utils.RemoveIf(members, func(m ArchiveMember) bool {
		return len(m.Contents) == 0
	})

	return members, nil
}
