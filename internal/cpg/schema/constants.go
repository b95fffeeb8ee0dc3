package schema

// Node types.
const (
	NodeTypeTable        = "table"
	NodeTypeTableColumn  = "table-column"
	NodeTypeTableRow     = "table-row"
	NodeTypeTableCell    = "table-cell"
	NodeTypeElection     = "election"
	NodeTypeBallotEntry  = "ballot-entry"
	NodeTypeLexicon      = "lexicon"
	NodeTypeLexeme       = "lexeme"
	NodeTypeWordForm     = "word_form"
	NodeTypeDocument     = "document"
	NodeTypeMap          = "map"
	NodeTypeWord         = "word"
	NodeTypeWordSequence = "word-sequence"
	NodeTypeLanguage     = "language"
	NodeTypeMapLanguage  = "map-language"
	NodeTypeUser         = "user"
	NodeTypeDefinition   = "definition"
	NodeTypePhrase       = "phrase"
)

// Relationship types.
const (
	RelTableToColumn          = "table-to-column"
	RelTableToRow             = "table-to-row"
	RelTableColumnToCell      = "table-column-to-cell"
	RelTableRowToCell         = "table-row-to-cell"
	RelElectionToBallotEntry  = "election-to-ballot-entry"
	RelWordToLanguage         = "word-to-language-entry"
	RelWordMap                = "word-map"
	RelWordToTranslation      = "word-to-translation"
	RelWordSequenceToWord     = "word-sequence-to-word"
	RelWordSequenceToDocument = "word-sequence-to-document"
	RelWordSequenceToCreator  = "word-sequence-to-creator"
	RelWordToDefinition       = "word-to-definition"
	RelPhraseToDefinition     = "phrase-to-definition"
	RelPhraseToLanguage       = "phrase-to-language-entry"
)

// Property keys.
const (
	PropName         = "name"
	PropEmail        = "email"
	PropTableName    = "table_name"
	PropRowID        = "row_id"
	PropElectionID   = "election_id"
	PropElectionType = "election-type"
	PropImportUID    = "import-uid"
	PropWordSequence = "word_sequence"
	PropCreatorID    = "creator_id"
	PropDocumentID   = "document_id"
	PropLanguageID   = "language_id"
	PropPosition     = "position"
	PropText         = "text"
)
