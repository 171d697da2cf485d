// Copyright (c) CodeForge Authors.
// Licensed under the MIT License.

/*
Package archive 管理生成产物的落盘与交付。

产物根目录下有两棵平行的目录树：

	<root>/generated_code/<workDirId>/   生成的源码文件
	<root>/final_zip/<archiveDirId>/     打包后的 zip 归档

归档的发布是原子的：先写同目录下的临时文件，fsync 后改名到最终路径。
下载方在最终路径上要么看不到文件（还没好），要么看到完整归档，
永远不会读到写了一半的 zip。

所有进入文件名的外部输入（目录标识、文件集内的相对路径）
都先经过净化或校验，写入范围被限制在两棵目录树之内。
*/
package archive
