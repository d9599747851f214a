package core

// FetchRequest asks for a page of rows from a container.
// Superseded requests are discarded, never partially executed.
type FetchRequest struct {
	Container     DataContainer
	Filter        *DataFilter // nil means unfiltered
	Offset        int
	MaxRows       int
	FocusRow      int
	SaveToHistory bool
	Incremental   bool // append to the current rows instead of replacing them
}

// HistoryState is a navigable result state.
type HistoryState struct {
	Container DataContainer
	Filter    *DataFilter
	FocusRow  int
}

// Matches reports whether s and other address the same rows.
func (s HistoryState) Matches(other HistoryState) bool {
	return s.Container.ID() == other.Container.ID() && s.Filter.EqualPredicates(other.Filter)
}
