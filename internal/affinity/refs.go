package affinity

// Entity is the host's concrete entity reference. Entities are spawned into
// a region, may migrate between regions, and may be removed; the scheduler
// only ever sees the opaque EntityRef side of this type.
type Entity struct {
	id uint64
}

func (e Entity) EntityID() uint64 { return e.id }

// Location is a world coordinate pair. Its owning region is derived from the
// coordinates, so a location always resolves to a domain.
type Location struct {
	X, Z int
}

func (l Location) LocationKey() uint64 {
	// Interleave-free mix; only spread matters, not distribution quality.
	return uint64(int64(l.X))*0x9e3779b97f4a7c15 ^ uint64(int64(l.Z))
}

// SpawnEntity registers a new entity owned by the given region. On a
// single-domain host the region index is ignored.
func (h *Host) SpawnEntity(region int) Entity {
	if len(h.regions) > 0 {
		if region < 0 || region >= len(h.regions) {
			region = 0
		}
	} else {
		region = 0
	}
	id := h.eseq.Add(1)
	h.emu.Lock()
	h.entities[id] = region
	h.emu.Unlock()
	return Entity{id: id}
}

// MoveEntity reassigns ownership of e to another region. Returns false if the
// entity no longer exists. A task bound to e picks up the new domain at its
// next firing.
func (h *Host) MoveEntity(e Entity, region int) bool {
	if len(h.regions) == 0 {
		h.emu.Lock()
		_, ok := h.entities[e.id]
		h.emu.Unlock()
		return ok
	}
	if region < 0 || region >= len(h.regions) {
		return false
	}
	h.emu.Lock()
	defer h.emu.Unlock()
	if _, ok := h.entities[e.id]; !ok {
		return false
	}
	h.entities[e.id] = region
	return true
}

// RemoveEntity despawns e. Entity-affine tasks bound to it retire at their
// next firing attempt.
func (h *Host) RemoveEntity(e Entity) {
	h.emu.Lock()
	delete(h.entities, e.id)
	h.emu.Unlock()
}

func (h *Host) ResolveEntityDomain(ref EntityRef) (Domain, bool) {
	if ref == nil {
		return h.global, false
	}
	h.emu.Lock()
	region, ok := h.entities[ref.EntityID()]
	h.emu.Unlock()
	if !ok {
		return h.global, false
	}
	if len(h.regions) == 0 {
		return h.global, true
	}
	return h.regions[region], true
}

func (h *Host) ResolveLocationDomain(ref LocationRef) Domain {
	if ref == nil || len(h.regions) == 0 {
		return h.global
	}
	return h.regions[ref.LocationKey()%uint64(len(h.regions))]
}
