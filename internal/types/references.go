package types

// StudysetReference and AnnotationReference are placeholder rows for records
// that live in the companion data store. They carry externally minted ids and
// may be materialized by id alone before the full upstream record is seen.

type StudysetReference struct {
	Base
}

func (StudysetReference) TableName() string { return "studyset_references" }

type AnnotationReference struct {
	Base
}

func (AnnotationReference) TableName() string { return "annotation_references" }
