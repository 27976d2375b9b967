// Package layout names the document paths of every entity, scoped per user.
package layout

import "classledger/internal/docstore"

const (
	usersCollection      = "users"
	subjectsCollection   = "subjects"
	attendanceCollection = "attendance"
	timetableCollection  = "timetable"
	metaCollection       = "meta"
	timetableGuardID     = "timetable"
)

func user(uid string) docstore.Path {
	return docstore.NewPath(usersCollection, uid)
}

// Subjects is the collection of a user's subjects.
func Subjects(uid string) docstore.Path {
	return user(uid).Child(subjectsCollection)
}

func Subject(uid, subjectID string) docstore.Path {
	return Subjects(uid).Child(subjectID)
}

// Records is the attendance ledger of one subject.
func Records(uid, subjectID string) docstore.Path {
	return Subject(uid, subjectID).Child(attendanceCollection)
}

func Record(uid, subjectID, recordID string) docstore.Path {
	return Records(uid, subjectID).Child(recordID)
}

// Timetable is the collection of a user's weekly slots.
func Timetable(uid string) docstore.Path {
	return user(uid).Child(timetableCollection)
}

func Slot(uid, slotID string) docstore.Path {
	return Timetable(uid).Child(slotID)
}

// TimetableGuard is rewritten by every timetable mutation so concurrent
// mutations of the same user's week conflict in the store.
func TimetableGuard(uid string) docstore.Path {
	return user(uid).Child(metaCollection, timetableGuardID)
}
