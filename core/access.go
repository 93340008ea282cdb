package core

// hasAccess is the single membership predicate behind every permission check:
// the identity must be the owner or one of the collaborators. A board whose
// owner is unset (never saved through the normal path) matches nobody, so it
// cannot be read, written or shared until a save establishes ownership.
func (b *Board) hasAccess(identity string) bool {
	if b.Owner == "" {
		return false
	}
	if identity == b.Owner {
		return true
	}
	for _, c := range b.Collaborators {
		if c == identity {
			return true
		}
	}
	return false
}

// CanRead reports whether identity may view the board.
func (b *Board) CanRead(identity string) bool { return b.hasAccess(identity) }

// CanWrite reports whether identity may save the board. Write access is
// intentionally the same predicate as read access: every participant is a
// full editor.
func (b *Board) CanWrite(identity string) bool { return b.hasAccess(identity) }

// CanInvite reports whether identity may add collaborators. Any participant
// may extend the invitation, not only the owner.
func (b *Board) CanInvite(identity string) bool { return b.hasAccess(identity) }
