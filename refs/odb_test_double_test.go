package refs

import "github.com/tuxdna/gitref/plumbing"

// memoryODB is a minimal in-memory ObjectDatabase test double: enough to
// exercise target-existence checks and tag peeling without depending on a
// real object store, which is out of this package's scope per §1/§6.
type memoryODB struct {
	objects map[plumbing.Hash]memoryObject
}

type memoryObject struct {
	typ    ObjectType
	target plumbing.Hash
}

func newMemoryODB() *memoryODB {
	return &memoryODB{objects: make(map[plumbing.Hash]memoryObject)}
}

func (o *memoryODB) putCommit(h plumbing.Hash) {
	o.objects[h] = memoryObject{typ: CommitObject}
}

func (o *memoryODB) putTag(h plumbing.Hash, target plumbing.Hash) {
	o.objects[h] = memoryObject{typ: TagObject, target: target}
}

func (o *memoryODB) Exists(oid plumbing.Hash) (bool, error) {
	_, ok := o.objects[oid]
	return ok, nil
}

func (o *memoryODB) Lookup(oid plumbing.Hash, typ ObjectType) (Object, error) {
	obj, ok := o.objects[oid]
	if !ok {
		return nil, ErrReferenceNotFound
	}
	if typ != AnyObject && typ != obj.typ {
		return nil, ErrReferenceNotFound
	}
	return memoryObjectHandle{obj}, nil
}

type memoryObjectHandle struct {
	memoryObject
}

func (h memoryObjectHandle) Type() ObjectType         { return h.typ }
func (h memoryObjectHandle) TagTarget() plumbing.Hash { return h.target }
