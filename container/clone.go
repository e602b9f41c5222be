package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
)

// State is the bundle returned by CloneData: everything a new Container (or
// a format binding wrapping one) needs to resume without re-walking the
// filesystem.
type State struct {
	Root        string
	OPFName     string
	NamePathMap map[string]string
	MimeMap     map[string]string
	PrettyPrint map[string]struct{}
	Encoding    map[string]string
	TweakMode   bool
}

// CloneData commits in place with keep_parsed=true, then recursively copies
// the working tree to destDir using hard links where possible and a plain
// copy as fallback (cross-device destinations, or filesystems without link
// support). It returns a state bundle from which a new Container can be
// constructed directly, bypassing NewContainer's filesystem walk.
func (c *Container) CloneData(destDir string) (*State, error) {
	if err := c.Commit(true); err != nil {
		return nil, err
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, ioErrorWrap("resolving clone destination", err)
	}
	if err := os.MkdirAll(absDest, 0o755); err != nil {
		return nil, ioErrorWrap("creating clone destination", err)
	}

	newPaths := make(map[string]string, len(c.namePathMap))
	for name, srcPath := range c.namePathMap {
		dstPath := NameToAbspath(absDest, name)
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return nil, ioErrorWrap(fmt.Sprintf("creating directory for %q", name), err)
		}
		if err := linkOrCopy(srcPath, dstPath); err != nil {
			return nil, ioErrorWrap(fmt.Sprintf("cloning %q", name), err)
		}
		newPaths[name] = dstPath
	}

	mimeCopy := make(map[string]string, len(c.mimeMap))
	for k, v := range c.mimeMap {
		mimeCopy[k] = v
	}
	prettyCopy := make(map[string]struct{}, len(c.prettyPrint))
	for k := range c.prettyPrint {
		prettyCopy[k] = struct{}{}
	}
	encodingCopy := make(map[string]string, len(c.cache.encoding))
	for k, v := range c.cache.encoding {
		encodingCopy[k] = v
	}

	return &State{
		Root:        absDest,
		OPFName:     c.opfName,
		NamePathMap: newPaths,
		MimeMap:     mimeCopy,
		PrettyPrint: prettyCopy,
		Encoding:    encodingCopy,
		TweakMode:   c.tweakMode,
	}, nil
}

// Clone commits this container with keep_parsed=true, hard-link-copies its
// working tree to destDir, and returns a new Container over the copy.
func (c *Container) Clone(destDir string, opts Options) (*Container, error) {
	st, err := c.CloneData(destDir)
	if err != nil {
		return nil, err
	}
	clone := FromState(st, opts)

	data, err := os.ReadFile(clone.namePathMap[clone.opfName])
	if err != nil {
		return nil, ioErrorWrap("reading cloned OPF", err)
	}
	opf, err := ParseOPF(data)
	if err != nil {
		return nil, err
	}
	clone.opf = opf
	clone.cache.set(clone.opfName, &Artifact{Kind: ArtifactXML, XML: opf.Doc})
	return clone, nil
}

// FromState constructs a Container directly from a clone State, marking it
// cloned so writes to any still hard-linked file decouple before mutation.
func FromState(st *State, opts Options) *Container {
	c := &Container{
		root:                st.Root,
		opfName:             st.OPFName,
		namePathMap:         st.NamePathMap,
		mimeMap:             st.MimeMap,
		cache:               newParseCache(),
		dirtied:             newDirtySet(),
		prettyPrint:         st.PrettyPrint,
		cloned:              true,
		tweakMode:           st.TweakMode,
		log:                 opts.logger(),
		needNotBeManifested: make(map[string]struct{}),
		mustNotBeRemoved:    make(map[string]struct{}),
		mustNotBeChanged:    make(map[string]struct{}),
	}
	c.cache.encoding = st.Encoding
	return c
}

// linkOrCopy hard-links src to dst, falling back to a byte copy when the
// link fails across devices or on filesystems without hard-link support.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if !isCrossDeviceOrUnsupported(err) {
			return err
		}
		return copyFile(src, dst)
	}
	return nil
}

// isCrossDeviceOrUnsupported reports whether err is the kind of os.Link
// failure that should fall back to a plain copy, rather than propagate: a
// cross-device rename/link (EXDEV) or an operation-not-supported filesystem.
func isCrossDeviceOrUnsupported(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	if errno, ok := linkErr.Err.(syscall.Errno); ok {
		switch errno {
		case syscall.EXDEV:
			return true
		case syscall.ENOSYS, syscall.EPERM:
			return runtime.GOOS != "windows"
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// hardLinkCount returns the number of directory entries referring to path's
// inode, used to detect whether a cloned file still shares storage with its
// source.
func hardLinkCount(path string) (uint64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 1, nil
	}
	return uint64(st.Nlink), nil
}

// decoupleIfLinked implements the copy-on-write rule: if name's path has a
// hard-link count greater than 1, it is copied to a temporary sibling,
// unlinked, and the temporary renamed into place, so the write that follows
// never mutates the clone source.
func (c *Container) decoupleIfLinked(name string) error {
	p, ok := c.namePathMap[name]
	if !ok {
		return nil
	}
	n, err := hardLinkCount(p)
	if err != nil {
		return ioErrorWrap(fmt.Sprintf("stat %q for decouple", name), err)
	}
	if n <= 1 {
		return nil
	}

	tmp := p + ".golibri-decouple-tmp"
	if err := copyFile(p, tmp); err != nil {
		return ioErrorWrap(fmt.Sprintf("decoupling %q", name), err)
	}
	if err := os.Remove(p); err != nil {
		os.Remove(tmp)
		return ioErrorWrap(fmt.Sprintf("unlinking %q during decouple", name), err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return ioErrorWrap(fmt.Sprintf("finishing decouple of %q", name), err)
	}
	return nil
}
