// Package server は、HTTPサーバーとカメラAPIを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// MJPEG・Server-Sent Events・WebSocketでの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの検出・開始・停止・再起動のAPI
//   - 最新フレームの取得API
//   - MJPEG、Server-Sent Events、WebSocketでの連続配信
//   - 設定からの部品の組み立て（Build）
//
// 仕様:
//   - ルーティングはgin、パラメータの解釈は generated パッケージ
//   - MJPEGは multipart/x-mixed-replace; boundary=frame
//   - 配信はクライアントが切断するまで続く
//   - 存在しないカメラの停止・フレーム取得は404を返す
package server
