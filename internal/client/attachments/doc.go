// Package attachments moves attachment files between local storage and the
// server: the direct transport goes through upload authorization, the WebDAV
// transport writes KEY.zip and KEY.prop to a remote file store, and either
// can hand the transfer to a background transport that outlives the session.
package attachments
