// Package logstore implements the shared append-only log file.
//
// A Store exclusively owns one file. Every operation runs under a single
// mutex, so appends are never interleaved and ReadAll never observes a
// partially written append:
//
//	st, err := logstore.Open("/var/tmp/aesdsocketdata", logstore.Options{Sync: true})
//	if err != nil {
//	    return err
//	}
//	defer st.Remove()
//
//	if err := st.Append([]byte("hello\n")); err != nil {
//	    return err
//	}
//	content, err := st.ReadAll()
//
// Open truncates any existing file. Remove closes the file and deletes it.
package logstore
