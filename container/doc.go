// Package container implements an in-memory, edit-capable model of an
// OPF-based e-book package: a tree of named files rooted at an OPF
// manifest, with lazy parsing, dirty tracking, link rewriting,
// manifest/spine/guide manipulation, font-obfuscation handling, and
// lossless round-tripping back to a packaged EPUB or KF8/MOBI form.
//
// Container is the base model shared by every packaging flavor. EPUB and
// KF8 wrap it rather than subclass it: each embeds *Container, overrides
// the operations its format needs to intercept (Rename, Commit), and
// populates the protected-name sets its format requires.
package container
