package container

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

// Options configures a newly opened Container, letting library callers
// outside cmd/golibri set tweak mode and logging without going through a
// cobra command.
type Options struct {
	// TweakMode is recorded on the container and carried into its clones.
	// HTML parsing does not depend on it: Parsed uses html.Parse whether it
	// is set or not, so there is no separate lenient or strict parser.
	TweakMode bool
	// Log receives structured diagnostics. A nil Log falls back to
	// slog.Default().
	Log *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// SpineEntry is one entry passed to SetSpine: a manifest item name and
// whether it is linear.
type SpineEntry struct {
	Name   string
	Linear bool
}

// SpineItem is one entry yielded by SpineIter.
type SpineItem struct {
	Itemref *etree.Element
	Name    string
	Linear  bool
}

// Container is the Base Container: a single-owner, single-threaded,
// in-memory model of an OPF-rooted tree of named files rooted at a working
// directory. EPUB and KF8 bindings embed and extend it rather than
// subclassing it, per the tagged-variant-over-inheritance design.
type Container struct {
	root    string
	opfName string

	namePathMap map[string]string // Name -> absolute filesystem path
	mimeMap     map[string]string // Name -> MIME

	cache       *parseCache
	dirtied     dirtySet
	prettyPrint map[string]struct{}

	cloned    bool
	tweakMode bool
	log       *slog.Logger

	opf *OPF

	// Overridable protected-name sets. Base leaves these empty; EPUB and
	// KF8 bindings populate them in their Open constructors.
	needNotBeManifested map[string]struct{}
	mustNotBeRemoved    map[string]struct{}
	mustNotBeChanged    map[string]struct{}
}

// NewContainer walks root, builds the name/path/mime maps, and parses the
// OPF at opfName. root must already hold the extracted (or exploded)
// working tree; the caller/binding owns its lifetime.
func NewContainer(root, opfName string, opts Options) (*Container, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ioErrorWrap("resolving working directory", err)
	}

	c := &Container{
		root:                absRoot,
		opfName:             opfName,
		namePathMap:         make(map[string]string),
		mimeMap:             make(map[string]string),
		cache:               newParseCache(),
		dirtied:             newDirtySet(),
		prettyPrint:         make(map[string]struct{}),
		tweakMode:           opts.TweakMode,
		log:                 opts.logger(),
		needNotBeManifested: make(map[string]struct{}),
		mustNotBeRemoved:    make(map[string]struct{}),
		mustNotBeChanged:    make(map[string]struct{}),
	}

	if err := c.walk(); err != nil {
		return nil, err
	}
	if _, ok := c.namePathMap[opfName]; !ok {
		return nil, invalidBookf("OPF %q not found under working directory", opfName)
	}

	if err := c.loadOPF(); err != nil {
		return nil, err
	}
	c.mimeMap[opfName] = OPFMimetype

	c.log.Debug("container opened", "root", c.root, "opf", opfName, "files", len(c.namePathMap))
	return c, nil
}

func (c *Container) walk() error {
	return filepath.Walk(c.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name, err := AbspathToName(c.root, p)
		if err != nil {
			return err
		}
		if !IsValidName(name) {
			return nil
		}
		c.namePathMap[name] = p
		c.mimeMap[name] = GuessMediaType(name)
		return nil
	})
}

func (c *Container) loadOPF() error {
	data, err := os.ReadFile(c.namePathMap[c.opfName])
	if err != nil {
		return ioErrorWrap("reading OPF", err)
	}
	opf, err := ParseOPF(data)
	if err != nil {
		return err
	}
	c.opf = opf
	c.cache.set(c.opfName, &Artifact{Kind: ArtifactXML, XML: opf.Doc})

	for _, item := range opf.ManifestItems() {
		name, ok := HrefToName(item.Href, c.opfName)
		if !ok {
			continue
		}
		if item.MediaType != "" {
			c.mimeMap[name] = item.MediaType
		}
	}
	return nil
}

// Root returns the container's working-directory root.
func (c *Container) Root() string { return c.root }

// OPFName returns the Name of the book's OPF file.
func (c *Container) OPFName() string { return c.opfName }

// OPF returns the parsed OPF model.
func (c *Container) OPF() *OPF { return c.opf }

// Names returns every Name currently tracked, sorted for deterministic
// iteration.
func (c *Container) Names() []string {
	out := make([]string, 0, len(c.namePathMap))
	for n := range c.namePathMap {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is tracked.
func (c *Container) Has(name string) bool {
	_, ok := c.namePathMap[name]
	return ok
}

// MimeOf returns the MIME recorded for name.
func (c *Container) MimeOf(name string) (string, bool) {
	m, ok := c.mimeMap[name]
	return m, ok
}

// SetLog replaces the logger used for diagnostics, letting bindings and
// cmd/golibri route container activity into their own *slog.Logger.
func (c *Container) SetLog(log *slog.Logger) { c.log = log }

func (c *Container) abspath(name string) string {
	if p, ok := c.namePathMap[name]; ok {
		return p
	}
	return NameToAbspath(c.root, name)
}

// Parsed returns the cached parsed artifact for name, materializing it from
// disk on first access. HTML-family MIME types parse to an HTML tree,
// XML-family (including the NCX MIME and any "+xml"/"/xml" suffix) parse to
// an XML tree, and every other MIME (text/css, but also fonts, images and
// anything unrecognized) is held as decoded text in an ArtifactCSS.
func (c *Container) Parsed(name string) (*Artifact, error) {
	if a, ok := c.cache.get(name); ok {
		return a, nil
	}

	mt, ok := c.mimeMap[name]
	if !ok {
		return nil, preconditionf("no such name %q", name)
	}

	raw, err := c.readFile(name)
	if err != nil {
		return nil, err
	}

	var a *Artifact
	switch ClassifyMime(mt) {
	case FamilyHTML:
		text, enc := DecodeText(raw)
		c.cache.encoding[name] = enc
		doc, err := html.Parse(strings.NewReader(text))
		if err != nil {
			return nil, invalidBookf("parsing HTML %q: %v", name, err)
		}
		a = &Artifact{Kind: ArtifactHTML, HTML: doc}
	case FamilyXML:
		text, enc := DecodeText(raw)
		c.cache.encoding[name] = enc
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes([]byte(text)); err != nil {
			return nil, invalidBookf("parsing XML %q: %v", name, err)
		}
		a = &Artifact{Kind: ArtifactXML, XML: doc}
	default:
		text, enc := DecodeText(raw)
		c.cache.encoding[name] = enc
		a = &Artifact{Kind: ArtifactCSS, CSS: text}
	}

	c.cache.set(name, a)
	return a, nil
}

func (c *Container) readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(c.abspath(name))
	if err != nil {
		return nil, ioErrorWrap(fmt.Sprintf("reading %q", name), err)
	}
	return data, nil
}

// RawData returns the on-disk bytes for name. When decode is true and the
// MIME is text-like (HTML, XML, or CSS family), the bytes are passed through
// the decoding policy and newline normalization first.
func (c *Container) RawData(name string, decode bool) ([]byte, error) {
	raw, err := c.readFile(name)
	if err != nil {
		return nil, err
	}
	if !decode {
		return raw, nil
	}
	mt, ok := c.mimeMap[name]
	if !ok || ClassifyMime(mt) == FamilyOther {
		return raw, nil
	}
	text, _ := DecodeText(raw)
	return []byte(text), nil
}

// DataForPath is a convenience wrapper around RawData for callers that want
// decoded bytes without deciding the decode flag themselves, mirroring the
// original container's raw_data default.
func (c *Container) DataForPath(name string) ([]byte, error) {
	return c.RawData(name, true)
}

// Dirty marks name's parsed form as diverging from disk. name must already
// be in the parse cache.
func (c *Container) Dirty(name string) {
	c.dirtied.add(name)
}

// Replace swaps the cached parsed artifact for name and marks it dirty.
func (c *Container) Replace(name string, a *Artifact) {
	c.cache.set(name, a)
	c.dirtied.add(name)
}

// CommitItem serializes the cached artifact for name and writes it to disk,
// then clears its dirty membership. If keepParsed is false, the cache entry
// is evicted afterward, so the next Parsed(name) call re-reads from disk.
func (c *Container) CommitItem(name string, keepParsed bool) error {
	data, err := c.serializeItem(name)
	if err != nil {
		return err
	}
	if err := c.writeFile(name, data); err != nil {
		return err
	}
	c.dirtied.remove(name)
	if !keepParsed {
		c.cache.evict(name)
	}
	return nil
}

// writeFile is the path through which the container rewrites file content
// (Open, which hands out a writable handle instead, runs the same decouple
// itself); it decouples name from a shared inode first whenever this
// container is a clone, so a write here never mutates the clone source's
// bytes.
func (c *Container) writeFile(name string, data []byte) error {
	if c.cloned {
		if err := c.decoupleIfLinked(name); err != nil {
			return err
		}
	}
	p := c.abspath(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return ioErrorWrap(fmt.Sprintf("creating directory for %q", name), err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return ioErrorWrap(fmt.Sprintf("writing %q", name), err)
	}
	c.namePathMap[name] = p
	return nil
}

// Commit serializes every dirtied name to disk.
func (c *Container) Commit(keepParsed bool) error {
	for _, name := range c.dirtied.names() {
		if err := c.CommitItem(name, keepParsed); err != nil {
			return err
		}
	}
	return nil
}

// Open returns an *os.File for name, flushing any pending mutation first: if
// name is dirty it is committed (and evicted from the parse cache), and if
// the container is cloned and flag requests write access on a multiply
// linked path, the copy-on-write decouple runs first. The caller owns the
// returned handle; do not call Parsed(name) again while holding it.
func (c *Container) Open(name string, flag int, perm os.FileMode) (*os.File, error) {
	if c.dirtied.has(name) {
		if err := c.CommitItem(name, false); err != nil {
			return nil, err
		}
	}
	if c.cloned && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		if err := c.decoupleIfLinked(name); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(c.abspath(name), flag, perm)
	if err != nil {
		return nil, ioErrorWrap(fmt.Sprintf("opening %q", name), err)
	}
	return f, nil
}

// AddFile writes data as a new resource at name. Unless name is in the
// need-not-be-manifested set, a manifest item is synthesized with a fresh
// unique id, and an HTML-family resource also gets a spine itemref.
func (c *Container) AddFile(name string, data []byte, mediaType string) error {
	return c.addFile(name, data, mediaType, "id")
}

// addFile is AddFile with the prefix used for the synthesized manifest id.
func (c *Container) addFile(name string, data []byte, mediaType, idPrefix string) error {
	if !IsValidName(name) {
		return preconditionf("invalid name %q", name)
	}
	if c.Has(name) {
		return preconditionf("name %q already exists", name)
	}
	href := NameToHref(name, c.opfName)
	if _, exists := c.opf.ManifestItemByHref(href); exists {
		return preconditionf("href %q already present in manifest", href)
	}

	if mediaType == "" {
		mediaType = GuessMediaType(name)
	}

	if err := c.writeFile(name, data); err != nil {
		return err
	}
	c.mimeMap[name] = mediaType

	if _, skip := c.needNotBeManifested[name]; skip {
		return nil
	}

	used := c.opf.UsedManifestIDs()
	id := NextUniqueID(used, idPrefix)
	c.opf.AppendManifestItem(id, href, mediaType, "")
	c.dirtied.add(c.opfName)

	if IsHTMLFamily(mediaType) {
		c.opf.AppendSpineItemRef(id, true)
	}
	return nil
}

// GenerateItem creates an empty resource like AddFile, but synthesizes a
// non-colliding href by suffixing "_N" to the stem when name's href already
// exists in the manifest.
func (c *Container) GenerateItem(name, idPrefix, mediaType string) (string, error) {
	if idPrefix == "" {
		idPrefix = "id"
	}
	href := NameToHref(name, c.opfName)
	if _, exists := c.opf.ManifestItemByHref(href); exists {
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
			candidateHref := NameToHref(candidate, c.opfName)
			if _, exists := c.opf.ManifestItemByHref(candidateHref); !exists && !c.Has(candidate) {
				name = candidate
				break
			}
		}
	}
	if err := c.addFile(name, nil, mediaType, idPrefix); err != nil {
		return "", err
	}
	return name, nil
}

// RemoveItem deletes name: every manifest item whose href resolves to it is
// removed (freeing its id), matching spine itemrefs and cover meta are
// removed, and, if removeFromGuide, matching guide references too. The file
// is deleted from disk and purged from every cache.
func (c *Container) RemoveItem(name string, removeFromGuide bool) error {
	if _, protected := c.mustNotBeRemoved[name]; protected {
		return preconditionf("name %q must not be removed", name)
	}
	if !c.Has(name) {
		return preconditionf("no such name %q", name)
	}

	freedIDs := make(map[string]struct{})
	for _, item := range c.opf.ManifestItems() {
		n, ok := HrefToName(item.Href, c.opfName)
		if !ok || n != name {
			continue
		}
		freedIDs[item.ID] = struct{}{}
		RemoveFromXML(item.Elem)
		c.dirtied.add(c.opfName)
	}

	for _, ir := range c.opf.SpineItemRefs() {
		if _, freed := freedIDs[ir.SelectAttrValue("idref", "")]; freed {
			RemoveFromXML(ir)
			c.dirtied.add(c.opfName)
		}
	}
	if toc := c.opf.Spine.SelectAttrValue("toc", ""); toc != "" {
		if _, freed := freedIDs[toc]; freed {
			c.opf.Spine.RemoveAttr("toc")
			c.dirtied.add(c.opfName)
		}
	}
	for id := range freedIDs {
		c.opf.RemoveCoverMetaFor(id)
	}

	if removeFromGuide {
		for _, ref := range c.opf.GuideReferences() {
			n, ok := HrefToName(ref.SelectAttrValue("href", ""), c.opfName)
			if ok && n == name {
				RemoveFromXML(ref)
				c.dirtied.add(c.opfName)
			}
		}
	}

	if p, ok := c.namePathMap[name]; ok {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ioErrorWrap(fmt.Sprintf("removing %q", name), err)
		}
	}
	delete(c.namePathMap, name)
	delete(c.mimeMap, name)
	c.cache.evict(name)
	c.dirtied.remove(name)
	return nil
}

// Rename moves current to new, refusing protected names and existing
// destinations (differing by more than case). current is committed first so
// disk reflects the latest parsed state, then renamed; cache entries move
// under the new key. If the directory portion changed, the renamed file's
// own relative links are rebased for its new depth; other files' references
// to it are left untouched.
func (c *Container) Rename(current, newName string) error {
	if _, protected := c.mustNotBeChanged[current]; protected {
		return preconditionf("name %q must not be changed", current)
	}
	if !c.Has(current) {
		return preconditionf("no such name %q", current)
	}
	if !IsValidName(newName) {
		return preconditionf("invalid name %q", newName)
	}
	if c.Has(newName) && !strings.EqualFold(current, newName) {
		return preconditionf("name %q already exists", newName)
	}

	if c.dirtied.has(current) {
		if err := c.CommitItem(current, true); err != nil {
			return err
		}
	}

	oldPath := c.namePathMap[current]
	newPath := NameToAbspath(c.root, newName)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return ioErrorWrap("creating destination directory", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return ioErrorWrap(fmt.Sprintf("renaming %q to %q", current, newName), err)
	}
	c.pruneEmptyAncestors(filepath.Dir(oldPath))

	c.namePathMap[newName] = newPath
	delete(c.namePathMap, current)
	c.mimeMap[newName] = c.mimeMap[current]
	delete(c.mimeMap, current)
	c.cache.rekey(current, newName)
	c.dirtied.rekey(current, newName)

	for _, item := range c.opf.ManifestItems() {
		n, ok := HrefToName(item.Href, c.opfName)
		if ok && n == current {
			item.Elem.RemoveAttr("href")
			item.Elem.CreateAttr("href", NameToHref(newName, c.opfName))
			c.dirtied.add(c.opfName)
		}
	}
	if current == c.opfName {
		c.opfName = newName
	}

	if DirectoryOf(current) != DirectoryOf(newName) {
		c.rebaseOwnLinks(current, newName)
	}
	return nil
}

func (c *Container) pruneEmptyAncestors(dir string) {
	for dir != c.root && strings.HasPrefix(dir, c.root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// rebaseOwnLinks adjusts newName's own relative links for its new directory
// depth after a rename from oldName. Each link is resolved against oldName
// to find the absolute name it targets, then re-rendered relative to
// newName; other files' references to this file are deliberately left
// untouched, matching the one-file-at-a-time rebase original_source's
// rename() performs (bulk updates of other files are a separate pass).
func (c *Container) rebaseOwnLinks(oldName, newName string) {
	mt, ok := c.mimeMap[newName]
	if !ok {
		return
	}
	a, err := c.Parsed(newName)
	if err != nil {
		return
	}
	changed := ReplaceLinks(mt, a, func(l *Link, replaced *bool) {
		target, ok := HrefToName(l.URL, oldName)
		if !ok {
			return
		}
		l.Set(NameToHref(target, newName), replaced)
	})
	if changed {
		c.dirtied.add(newName)
	}
}

// SetSpine replaces the spine's itemrefs with one per entry, in order.
// Whitespace tails are inherited from the previous spine children so the
// serialized form stays well-indented.
func (c *Container) SetSpine(items []SpineEntry) error {
	idByName := make(map[string]string)
	for _, mi := range c.opf.ManifestItems() {
		n, ok := HrefToName(mi.Href, c.opfName)
		if ok {
			idByName[n] = mi.ID
		}
	}

	leading := c.opf.Spine.Text()
	oldTails := make([]string, 0)
	for _, ir := range c.opf.SpineItemRefs() {
		oldTails = append(oldTails, tailOf(ir))
		RemoveFromXML(ir)
	}

	for i, entry := range items {
		id, ok := idByName[entry.Name]
		if !ok {
			return preconditionf("set_spine: unknown name %q", entry.Name)
		}
		ir := etree.NewElement("itemref")
		ir.CreateAttr("idref", id)
		if !entry.Linear {
			ir.CreateAttr("linear", "no")
		}
		tail := "\n  "
		if i < len(oldTails) {
			tail = oldTails[i]
		} else if len(oldTails) > 0 {
			tail = oldTails[len(oldTails)-1]
		}
		InsertIntoXML(c.opf.Spine, ir, -1)
		if i == 0 && len(oldTails) > 0 {
			setLeadingText(c.opf.Spine, leading)
		}
		setTail(ir, tail)
	}
	c.dirtied.add(c.opfName)
	return nil
}

// RemoveFromSpine removes the itemrefs for the given names. If alsoFromBook,
// any name no longer referenced from the spine afterward is also removed as
// a file via RemoveItem.
func (c *Container) RemoveFromSpine(names []string, alsoFromBook bool) error {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	hrefByID := make(map[string]string)
	for _, mi := range c.opf.ManifestItems() {
		hrefByID[mi.ID] = mi.Href
	}

	for _, ir := range c.opf.SpineItemRefs() {
		idref := ir.SelectAttrValue("idref", "")
		href, ok := hrefByID[idref]
		if !ok {
			continue
		}
		n, ok := HrefToName(href, c.opfName)
		if !ok {
			continue
		}
		if _, targeted := want[n]; targeted {
			RemoveFromXML(ir)
			c.dirtied.add(c.opfName)
		}
	}

	if !alsoFromBook {
		return nil
	}

	stillLinked := make(map[string]struct{})
	for _, ir := range c.opf.SpineItemRefs() {
		if href, ok := hrefByID[ir.SelectAttrValue("idref", "")]; ok {
			if n, ok := HrefToName(href, c.opfName); ok {
				stillLinked[n] = struct{}{}
			}
		}
	}
	for n := range want {
		if _, linked := stillLinked[n]; !linked {
			if err := c.RemoveItem(n, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpineIter yields one entry per spine itemref, linear items first in
// document order, then non-linear items in document order.
func (c *Container) SpineIter() []SpineItem {
	hrefByID := make(map[string]string)
	for _, mi := range c.opf.ManifestItems() {
		hrefByID[mi.ID] = mi.Href
	}

	var linear, nonLinear []SpineItem
	for _, ir := range c.opf.SpineItemRefs() {
		idref := ir.SelectAttrValue("idref", "")
		href := hrefByID[idref]
		name, _ := HrefToName(href, c.opfName)
		isLinear := ir.SelectAttrValue("linear", "yes") != "no"
		item := SpineItem{Itemref: ir, Name: name, Linear: isLinear}
		if isLinear {
			linear = append(linear, item)
		} else {
			nonLinear = append(nonLinear, item)
		}
	}
	return append(linear, nonLinear...)
}

// SpineNames returns the Names referenced by SpineIter, in its order.
func (c *Container) SpineNames() []string {
	items := c.SpineIter()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}
