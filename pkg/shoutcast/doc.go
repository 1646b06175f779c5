// Package shoutcast speaks the client side of the ICY (Shoutcast/Icecast) protocol.
//
// It started as a fork of github.com/romantomjak/shoutcast and now covers what a
// recorder needs:
//   - Handshake: request in-band metadata and validate the icy-metaint header
//   - Demultiplexing: split the interleaved body into audio bytes and metadata blocks
//   - StreamTitle parsing into artist and title
//   - Playlist resolution: .pls and .m3u URLs are resolved to the actual stream URL
//   - No client timeout on the stream so long-running recording is supported
package shoutcast
