package version

// HasSignificantChange reports whether a prospective save differs from the
// last recorded state. Title changes always count; content is compared by
// hash so repeated saves of identical state never grow the history.
func HasSignificantChange(oldContent, newContent, oldTitle, newTitle string) bool {
	if oldTitle != newTitle {
		return true
	}
	return ContentHash(oldContent) != ContentHash(newContent)
}

// DetectChangeType resolves the generic edit label: TITLE when only the
// title moved, EDIT otherwise. CREATED, RESTORE and MERGE are chosen by the
// caller and never inferred here.
func DetectChangeType(oldTitle, newTitle, oldContent, newContent string) ChangeType {
	if oldTitle != newTitle && ContentHash(oldContent) == ContentHash(newContent) {
		return ChangeTitle
	}
	return ChangeEdit
}
