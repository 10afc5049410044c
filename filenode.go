package arbor

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/arbormap/arbor/store"
)

// readFiles maps a file field. File nodes always live under a folder
// container named after the field, even for single files; map entries are
// file nodes (or per-key folders, for slices) keyed by name.
func (c *opCtx) readFiles(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	if fd.lazy {
		if !c.filter.IsNameIncluded(fd.name) {
			return nil
		}
	} else if !c.filter.IsIncluded(fd.name, depth) {
		return nil
	}

	name := c.m.cleanName(fd.name)
	has, err := node.HasChild(ctx, name)
	if err != nil || !has {
		return err
	}
	container, err := node.Child(ctx, name)
	if err != nil {
		return err
	}
	f := d.field(obj, fd)

	switch fd.container {
	case containerSingle:
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.firstFileLoader(ctx, container.Path(), fd))
			return nil
		}
		entries, err := container.Children(ctx)
		if err != nil || len(entries) == 0 {
			return err
		}
		mapped, err := c.readFileNode(ctx, entries[0], fd.elem, fd.loadBytes, obj, depth)
		if err != nil {
			return err
		}
		f.Set(mapped)
		return nil

	case containerSlice:
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.fileListLoader(ctx, container.Path(), reflect.SliceOf(fd.elem), fd))
			return nil
		}
		list, err := c.readFileList(ctx, container, f.Type(), fd, obj, depth)
		if err != nil {
			return err
		}
		f.Set(list)
		return nil

	case containerMap:
		entries, err := container.Children(ctx)
		if err != nil {
			return err
		}
		out := reflect.MakeMapWithSize(f.Type(), len(entries))
		for _, entry := range entries {
			key := reflect.ValueOf(entry.Name())
			if fd.lazy {
				ptr := reflect.New(fd.lazyType.Elem())
				ptr.Interface().(lazyValue).attach(c.fileLoader(ctx, entry.Path(), fd))
				out.SetMapIndex(key, ptr)
				continue
			}
			mapped, err := c.readFileNode(ctx, entry, fd.elem, fd.loadBytes, obj, depth)
			if err != nil {
				return err
			}
			out.SetMapIndex(key, mapped)
		}
		f.Set(out)
		return nil

	case containerMapOfSlice:
		entries, err := container.Children(ctx)
		if err != nil {
			return err
		}
		out := reflect.MakeMapWithSize(f.Type(), len(entries))
		listType := reflect.SliceOf(fd.elem)
		for _, entry := range entries {
			key := reflect.ValueOf(entry.Name())
			if fd.lazy {
				ptr := reflect.New(fd.lazyType.Elem())
				ptr.Interface().(lazyValue).attach(c.fileListLoader(ctx, entry.Path(), listType, fd))
				out.SetMapIndex(key, ptr)
				continue
			}
			list, err := c.readFileList(ctx, entry, listType, fd, obj, depth)
			if err != nil {
				return err
			}
			out.SetMapIndex(key, list)
		}
		f.Set(out)
		return nil
	}
	return nil
}

func (c *opCtx) readFileNode(ctx context.Context, node store.Node, static reflect.Type, loadBytes bool, parent reflect.Value, depth int) (reflect.Value, error) {
	node, err := c.versionedVariant(ctx, node)
	if err != nil {
		return reflect.Value{}, err
	}
	obj, d, err := c.instantiate(ctx, node, static)
	if err != nil {
		return reflect.Value{}, err
	}
	if !d.isFile {
		return reflect.Value{}, fmt.Errorf("%s does not embed File: %w", d.typ, ErrUnsupportedType)
	}
	return c.readFileEntity(ctx, node, obj, d, loadBytes, parent, depth)
}

// readFileEntity fills a file entity: name, path and content metadata from
// the resource child, the data provider when the filter includes it, and
// then any custom mapped fields on the file node itself.
func (c *opCtx) readFileEntity(ctx context.Context, node store.Node, obj reflect.Value, d *typeDesc, loadBytes bool, parent reflect.Value, depth int) (reflect.Value, error) {
	fr := obj.Interface().(FileEntity).fileRecord()
	fr.Name = node.Name()
	fr.Path = node.Path()

	hasContent, err := node.HasChild(ctx, store.ContentNodeName)
	if err != nil {
		return reflect.Value{}, err
	}
	if hasContent {
		content, err := node.Child(ctx, store.ContentNodeName)
		if err != nil {
			return reflect.Value{}, err
		}
		if err := c.readFileMeta(ctx, content, fr); err != nil {
			return reflect.Value{}, err
		}
		if c.filter.IsIncluded(store.PropData, depth) {
			if err := c.readFileData(ctx, content, fr, loadBytes); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return c.mapNode(ctx, obj, d, node, parent, depth+1)
}

func (c *opCtx) readFileMeta(ctx context.Context, content store.Node, fr *File) error {
	for _, meta := range []struct {
		name string
		set  func(store.Value)
	}{
		{store.PropMimeType, func(v store.Value) { fr.MimeType = v.Str }},
		{store.PropEncoding, func(v store.Value) { fr.Encoding = v.Str }},
		{store.PropLastModified, func(v store.Value) { fr.LastModified = v.Time }},
	} {
		has, err := content.HasProperty(ctx, meta.name)
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		p, err := content.Property(ctx, meta.name)
		if err != nil {
			return err
		}
		meta.set(p.Value())
	}
	return nil
}

func (c *opCtx) readFileData(ctx context.Context, content store.Node, fr *File, loadBytes bool) error {
	has, err := content.HasProperty(ctx, store.PropData)
	if err != nil || !has {
		return err
	}
	if loadBytes {
		p, err := content.Property(ctx, store.PropData)
		if err != nil {
			return err
		}
		fr.Content = NewBytesProvider(p.Value().Data)
		return nil
	}
	sess, path := c.sess, content.Path()
	fr.Content = &nodeProvider{
		path:   path,
		length: -1,
		load: func() ([]byte, error) {
			node, err := sess.Node(ctx, path)
			if err != nil {
				return nil, err
			}
			p, err := node.Property(ctx, store.PropData)
			if err != nil {
				return nil, err
			}
			return p.Value().Data, nil
		},
	}
	return nil
}

func (c *opCtx) readFileList(ctx context.Context, container store.Node, listType reflect.Type, fd *fieldDesc, parent reflect.Value, depth int) (reflect.Value, error) {
	entries, err := container.Children(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeSlice(listType, 0, len(entries))
	for _, entry := range entries {
		mapped, err := c.readFileNode(ctx, entry, fd.elem, fd.loadBytes, parent, depth)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, mapped)
	}
	return out, nil
}

// fileLoader defers loading of the file node at path.
func (c *opCtx) fileLoader(ctx context.Context, path string, fd *fieldDesc) func() (any, error) {
	m, sess := c.m, c.sess
	static, loadBytes := fd.elem, fd.loadBytes
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy file", "path", path)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		node, err := sess.Node(ctx, path)
		if err != nil {
			return nil, err
		}
		mapped, err := sub.readFileNode(ctx, node, static, loadBytes, reflect.Value{}, 0)
		if err != nil {
			return nil, err
		}
		return mapped.Interface(), nil
	}
}

// firstFileLoader defers loading of the first file inside a folder
// container, the layout single file fields use.
func (c *opCtx) firstFileLoader(ctx context.Context, containerPath string, fd *fieldDesc) func() (any, error) {
	m, sess := c.m, c.sess
	static, loadBytes := fd.elem, fd.loadBytes
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy file", "path", containerPath)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		container, err := sess.Node(ctx, containerPath)
		if err != nil {
			return nil, err
		}
		entries, err := container.Children(ctx)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return reflect.Zero(static).Interface(), nil
		}
		mapped, err := sub.readFileNode(ctx, entries[0], static, loadBytes, reflect.Value{}, 0)
		if err != nil {
			return nil, err
		}
		return mapped.Interface(), nil
	}
}

func (c *opCtx) fileListLoader(ctx context.Context, containerPath string, listType reflect.Type, fd *fieldDesc) func() (any, error) {
	m, sess := c.m, c.sess
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy file list", "path", containerPath)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		container, err := sess.Node(ctx, containerPath)
		if err != nil {
			return nil, err
		}
		list, err := sub.readFileList(ctx, container, listType, fd, reflect.Value{}, 0)
		if err != nil {
			return nil, err
		}
		return list.Interface(), nil
	}
}

// writeFiles stores a file field. The folder container survives emptying,
// so clearing a file list leaves an empty folder behind rather than
// removing it.
func (c *opCtx) writeFiles(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	name := c.m.cleanName(fd.name)
	f := d.field(obj, fd)

	switch fd.container {
	case containerSingle:
		entity, ok, err := resolveEntity(f, fd)
		if err != nil || !ok {
			return err
		}
		container, err := ensureChild(ctx, node, name, store.TypeFolder)
		if err != nil {
			return err
		}
		if isNilEntity(entity) {
			return removeAllChildren(ctx, container)
		}
		ed, err := c.m.descriptorForValue(entity)
		if err != nil {
			return err
		}
		entries, err := container.Children(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			_, err = c.addEntityNode(ctx, container, entity, ed, nil, true)
			return err
		}
		_, err = c.updateEntityNode(ctx, entries[0], entity, ed, depth+1)
		return err

	case containerSlice:
		entities, ok, err := resolveEntityList(f, fd)
		if err != nil || !ok {
			return err
		}
		container, err := ensureChild(ctx, node, name, store.TypeFolder)
		if err != nil {
			return err
		}
		if entities == nil {
			return removeAllChildren(ctx, container)
		}
		return c.writeChildList(ctx, container, entities, depth)

	case containerMap, containerMapOfSlice:
		if f.IsNil() {
			return removeChild(ctx, node, name)
		}
		container, err := ensureChild(ctx, node, name, store.TypeUnstructured)
		if err != nil {
			return err
		}
		return c.writeChildMap(ctx, container, f, fd, store.TypeFolder, depth)
	}
	return nil
}

// writeFileContent brings the resource child of a file node in line with
// the entity's File record. Content already persisted on this node is not
// copied onto itself.
func (c *opCtx) writeFileContent(ctx context.Context, node store.Node, fr *File) error {
	content, err := ensureChild(ctx, node, store.ContentNodeName, store.TypeResource)
	if err != nil {
		return err
	}

	mimeType := fr.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	if err := content.SetProperty(ctx, store.PropMimeType, store.StringValue(mimeType)); err != nil {
		return err
	}
	lastModified := fr.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	if err := content.SetProperty(ctx, store.PropLastModified, store.DateValue(lastModified)); err != nil {
		return err
	}
	if fr.Encoding != "" {
		if err := content.SetProperty(ctx, store.PropEncoding, store.StringValue(fr.Encoding)); err != nil {
			return err
		}
	}

	if fr.Content == nil {
		return nil
	}
	if p, ok := fr.Content.(interface{ persistedAt() string }); ok && p.persistedAt() == content.Path() {
		return nil
	}
	data, err := fr.Content.Bytes()
	if err != nil {
		return err
	}
	return content.SetProperty(ctx, store.PropData, store.BinaryValue(data))
}

func removeAllChildren(ctx context.Context, node store.Node) error {
	entries, err := node.Children(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := entry.Remove(ctx); err != nil {
			return err
		}
	}
	return nil
}
