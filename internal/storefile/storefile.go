// Package storefile implements the immutable sorted files a store flushes
// and compacts into, plus the references that let split daughters read half
// of a parent's file without copying it.
//
// Every family directory holds three subdirectories:
//
//	mapfiles/<id>           data files
//	info/<id>[.<parent>]    8 byte sequence id of each file
//	refs/<id>.<parent>      reference to a file of region <parent>
package storefile

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

const (
	mapDir  = "mapfiles"
	infoDir = "info"
	refDir  = "refs"
)

var ErrReference = errors.New("storefile: operation not supported on a reference")

// StoreFile is one data file, or reference to one, owned by a store.
type StoreFile struct {
	familyDir string
	id        uint64
	ref       *Reference
	seq       int64
	reader    *Reader
}

// Name is the on-disk name of a file: its id, suffixed with the parent
// region for references.
func Name(id uint64, parent string) string {
	s := strconv.FormatUint(id, 10)
	if parent != "" {
		s += "." + parent
	}
	return s
}

func parseName(name string) (uint64, string, error) {
	idPart, parent, _ := strings.Cut(name, ".")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", errors.Wrapf(err, "parse store file name %q", name)
	}
	return id, parent, nil
}

// MapPath is where data file id of a family lives.
func MapPath(familyDir string, id uint64) string {
	return filepath.Join(familyDir, mapDir, Name(id, ""))
}

func infoPath(familyDir, name string) string { return filepath.Join(familyDir, infoDir, name) }
func refPath(familyDir, name string) string  { return filepath.Join(familyDir, refDir, name) }

// parentMapPath resolves a reference against the family directory of its
// parent region, a sibling of this region's directory.
func parentMapPath(familyDir string, ref Reference) string {
	tableDir := filepath.Dir(filepath.Dir(familyDir))
	return MapPath(filepath.Join(tableDir, ref.ParentRegion, filepath.Base(familyDir)), ref.FileID)
}

// ReferencedRegions lists the parent regions that the references recorded
// in familyDir point at. A missing directory holds none.
func ReferencedRegions(familyDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(familyDir, refDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list references of %s", familyDir)
	}
	var parents []string
	for _, e := range entries {
		_, parent, err := parseName(e.Name())
		if err != nil || parent == "" {
			continue
		}
		if !slices.Contains(parents, parent) {
			parents = append(parents, parent)
		}
	}
	return parents, nil
}

// MkDirs creates the subdirectories of a family directory.
func MkDirs(familyDir string) error {
	for _, d := range []string{mapDir, infoDir, refDir} {
		if err := os.MkdirAll(filepath.Join(familyDir, d), 0755); err != nil {
			return errors.Wrapf(err, "create %s", d)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewID picks a file id not yet used in familyDir.
func NewID(familyDir string) uint64 {
	for {
		id := rand.Uint64()
		if !exists(MapPath(familyDir, id)) && !exists(infoPath(familyDir, Name(id, ""))) {
			return id
		}
	}
}

// Create records seq for the data file already written at MapPath and opens
// it.
func Create(familyDir string, id uint64, seq int64, cache *BlockCache) (*StoreFile, error) {
	if err := writeInfo(infoPath(familyDir, Name(id, "")), seq); err != nil {
		return nil, err
	}
	return open(familyDir, id, nil, seq, cache)
}

// Install moves a data file written elsewhere into familyDir and opens it.
func Install(familyDir, staged string, id uint64, seq int64, cache *BlockCache) (*StoreFile, error) {
	if err := os.Rename(staged, MapPath(familyDir, id)); err != nil {
		return nil, errors.Wrapf(err, "install %s", staged)
	}
	return Create(familyDir, id, seq, cache)
}

func open(familyDir string, id uint64, ref *Reference, seq int64, cache *BlockCache) (*StoreFile, error) {
	sf := &StoreFile{familyDir: familyDir, id: id, ref: ref, seq: seq}
	var err error
	if ref != nil {
		sf.reader, err = OpenHalf(parentMapPath(familyDir, *ref), cache, ref.SplitKey, ref.Range)
	} else {
		sf.reader, err = OpenReader(MapPath(familyDir, id), cache)
	}
	if err != nil {
		return nil, err
	}
	return sf, nil
}

// Load opens every file recorded in familyDir, oldest sequence id first.
// Data files that never got an info record are leftovers of an interrupted
// flush and are removed; the edits they hold are still in the log.
func Load(familyDir string, cache *BlockCache) ([]*StoreFile, error) {
	if err := MkDirs(familyDir); err != nil {
		return nil, err
	}
	infos, err := os.ReadDir(filepath.Join(familyDir, infoDir))
	if err != nil {
		return nil, errors.Wrapf(err, "list info of %s", familyDir)
	}

	var files []*StoreFile
	recorded := make(map[uint64]struct{})
	for _, e := range infos {
		id, parent, err := parseName(e.Name())
		if err != nil {
			log.Warn().Err(err).Str("dir", familyDir).Msg("skipping unrecognised info record")
			continue
		}
		seq := readInfo(infoPath(familyDir, e.Name()))

		var ref *Reference
		if parent != "" {
			r, err := readReference(refPath(familyDir, e.Name()))
			if err != nil {
				closeAll(files)
				return nil, err
			}
			ref = &r
		} else {
			recorded[id] = struct{}{}
			if !exists(MapPath(familyDir, id)) {
				log.Warn().Str("dir", familyDir).Uint64("id", id).Msg("info record without data file, removing")
				_ = os.Remove(infoPath(familyDir, e.Name()))
				continue
			}
		}

		sf, err := open(familyDir, id, ref, seq, cache)
		if err != nil {
			closeAll(files)
			return nil, err
		}
		files = append(files, sf)
	}

	maps, err := os.ReadDir(filepath.Join(familyDir, mapDir))
	if err != nil {
		closeAll(files)
		return nil, errors.Wrapf(err, "list data files of %s", familyDir)
	}
	for _, e := range maps {
		id, _, err := parseName(e.Name())
		if err != nil {
			continue
		}
		if _, ok := recorded[id]; !ok {
			log.Warn().Str("dir", familyDir).Uint64("id", id).Msg("removing data file without info record")
			_ = os.Remove(MapPath(familyDir, id))
		}
	}

	SortOldestFirst(files)
	return files, nil
}

// SortOldestFirst orders files by sequence id, then id.
func SortOldestFirst(files []*StoreFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].seq != files[j].seq {
			return files[i].seq < files[j].seq
		}
		return files[i].id < files[j].id
	})
}

func closeAll(files []*StoreFile) {
	for _, sf := range files {
		_ = sf.Close()
	}
}

func (sf *StoreFile) ID() uint64           { return sf.id }
func (sf *StoreFile) SequenceID() int64    { return sf.seq }
func (sf *StoreFile) IsReference() bool    { return sf.ref != nil }
func (sf *StoreFile) Reference() *Reference { return sf.ref }
func (sf *StoreFile) Reader() *Reader      { return sf.reader }

// Name is the on-disk name of the file's info record.
func (sf *StoreFile) Name() string {
	if sf.ref != nil {
		return Name(sf.id, sf.ref.ParentRegion)
	}
	return Name(sf.id, "")
}

func (sf *StoreFile) String() string {
	return filepath.Join(sf.familyDir, sf.Name())
}

// Split writes a reference to the rng half of sf into a daughter's family
// directory. parent is the encoded name of the region owning sf.
func (sf *StoreFile) Split(dstFamilyDir, parent string, splitRow []byte, rng Range) error {
	if sf.ref != nil {
		return errors.Wrapf(ErrReference, "split %s", sf)
	}
	if err := MkDirs(dstFamilyDir); err != nil {
		return err
	}
	id := NewID(dstFamilyDir)
	name := Name(id, parent)
	ref := Reference{
		ParentRegion: parent,
		FileID:       sf.id,
		SplitKey:     append([]byte(nil), splitRow...),
		Range:        rng,
	}
	if err := writeReference(refPath(dstFamilyDir, name), ref); err != nil {
		return err
	}
	return writeInfo(infoPath(dstFamilyDir, name), sf.seq)
}

// MoveTo hands a closed data file to another family directory under a new
// id with sequence id seq. sf must not be used afterwards.
func (sf *StoreFile) MoveTo(dstFamilyDir string, seq int64) error {
	if sf.ref != nil {
		return errors.Wrapf(ErrReference, "move %s", sf)
	}
	if err := MkDirs(dstFamilyDir); err != nil {
		return err
	}
	id := NewID(dstFamilyDir)
	if err := writeInfo(infoPath(dstFamilyDir, Name(id, "")), seq); err != nil {
		return err
	}
	if err := os.Rename(MapPath(sf.familyDir, sf.id), MapPath(dstFamilyDir, id)); err != nil {
		return errors.Wrapf(err, "move %s", sf)
	}
	return os.Remove(infoPath(sf.familyDir, sf.Name()))
}

// LinkTo hard links a closed data file into another family directory under
// a new id with sequence id seq. sf keeps its own files.
func (sf *StoreFile) LinkTo(dstFamilyDir string, seq int64) error {
	if sf.ref != nil {
		return errors.Wrapf(ErrReference, "link %s", sf)
	}
	if err := MkDirs(dstFamilyDir); err != nil {
		return err
	}
	id := NewID(dstFamilyDir)
	if err := os.Link(MapPath(sf.familyDir, sf.id), MapPath(dstFamilyDir, id)); err != nil {
		return errors.Wrapf(err, "link %s", sf)
	}
	return writeInfo(infoPath(dstFamilyDir, Name(id, "")), seq)
}

// Close releases the owner's hold on the reader.
func (sf *StoreFile) Close() error {
	return sf.reader.Close()
}

// Delete closes sf and removes everything it owns on disk. The data file
// behind a reference belongs to the parent region and is left alone.
func (sf *StoreFile) Delete() error {
	_ = sf.Close()
	var paths []string
	if sf.ref != nil {
		paths = append(paths, refPath(sf.familyDir, sf.Name()))
	} else {
		paths = append(paths, MapPath(sf.familyDir, sf.id))
	}
	paths = append(paths, infoPath(sf.familyDir, sf.Name()))
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "delete %s", p)
		}
	}
	return nil
}
