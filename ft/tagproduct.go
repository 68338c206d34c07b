package ft

import "github.com/dbzero-io/corestore/compare"

// TagPair is one (tag, object) result TagProduct yields.
type TagPair[K compare.Ordered] struct {
	Tag    K
	Object K
}

// TagFactory builds the object-posting iterator for a single tag, or nil if
// that tag has no associated index, per FT_TagProduct's tag_factory_func.
type TagFactory[K compare.Ordered] func(tag K, dir Direction) Iterator[K]

// TagProduct composes a tag iterator with a per-tag object iterator built
// on demand: it walks tags in dir, and for each tag, yields every object
// tag_factory's iterator produces before moving to the next tag, grounded
// on FT_TagProduct.{hpp,cpp}.
type TagProduct[K compare.Ordered] struct {
	tags    Iterator[K]
	factory TagFactory[K]
	dir     Direction
	current Iterator[K]
	pair    TagPair[K]
	end     bool
}

// NewTagProduct builds the composition, positioned at once on the first tag
// whose factory yields a non-empty object iterator.
func NewTagProduct[K compare.Ordered](tags Iterator[K], factory TagFactory[K], dir Direction) *TagProduct[K] {
	t := &TagProduct[K]{tags: tags, factory: factory, dir: dir}
	t.initNextTag()
	return t
}

// initNextTag advances to the next tag with a non-nil, non-empty object
// iterator, skipping tags whose factory returns nil or an empty stream.
func (t *TagProduct[K]) initNextTag() {
	for {
		if t.tags.IsEnd() {
			t.end = true
			return
		}
		tag := t.tags.GetKey()
		it := t.factory(tag, t.dir)
		if it != nil && !it.IsEnd() {
			t.current = it
			t.pair = TagPair[K]{Tag: tag, Object: it.GetKey()}
			return
		}
		if !t.tags.Advance(t.dir) {
			t.end = true
			return
		}
	}
}

func (t *TagProduct[K]) IsEnd() bool      { return t.end }
func (t *TagProduct[K]) GetKey() TagPair[K] { return t.pair }

// Advance steps the current tag's object iterator; once it's exhausted,
// moves to the next tag.
func (t *TagProduct[K]) Advance() bool {
	if t.end {
		return false
	}
	if t.current.Advance(t.dir) {
		t.pair = TagPair[K]{Tag: t.pair.Tag, Object: t.current.GetKey()}
		return true
	}
	if !t.tags.Advance(t.dir) {
		t.end = true
		return false
	}
	t.initNextTag()
	return !t.end
}

func (t *TagProduct[K]) Stop() { t.end = true }

func (t *TagProduct[K]) Depth() int {
	d := t.tags.Depth()
	if t.current != nil {
		if cd := t.current.Depth(); cd > d {
			d = cd
		}
	}
	return d + 1
}
