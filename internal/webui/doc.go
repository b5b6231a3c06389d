// Package webui serves a prebuilt single-page web app for the pod from a
// directory on disk.
//
// Requests for files that do not exist fall back to index.html so that
// client-side routing works. Files under assets/ are content-hashed by the
// web build and are served with a long-lived cache header; everything else
// is revalidated on every request.
package webui
